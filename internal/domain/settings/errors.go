package settings

import "errors"

var ErrSettingsNotFound = errors.New("ingest settings not initialised")
