package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	got []Name
	err error
}

func (r *recorder) Invalidate(_ context.Context, name Name) error {
	r.got = append(r.got, name)
	return r.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recorder{}, &recorder{err: boom}
	m := Multi{a, nil, b, LogInvalidator{}}

	err := m.Invalidate(context.Background(), Records)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Name{Records}, a.got)
	assert.Equal(t, []Name{Records}, b.got)

	assert.NoError(t, Multi{a}.Invalidate(context.Background(), Derived))
}
