package errkind_test

import (
	"errors"
	"testing"

	"github.com/mkoll/gofat32/errkind"
	"github.com/stretchr/testify/assert"
)

func TestFatErrorWithMessage(t *testing.T) {
	newErr := errkind.ErrNotFound.WithMessage("hello.txt")
	assert.Equal(t, "no such file or directory: hello.txt", newErr.Error())
	assert.ErrorIs(t, newErr, errkind.ErrNotFound)
	assert.Equal(t, errkind.KindNotFound, newErr.Kind())
}

func TestFatErrorWrap(t *testing.T) {
	originalErr := errors.New("short read")
	newErr := errkind.ErrIoError.Wrap(originalErr)

	assert.Equal(t, "underlying block device I/O failed: short read", newErr.Error())
	assert.ErrorIs(t, newErr, originalErr)
	assert.ErrorIs(t, newErr, errkind.ErrIoError)
}

func TestWithMessageChaining(t *testing.T) {
	err := errkind.ErrDirectoryFull.WithMessage("root").WithMessage("2MiB cap reached")
	assert.Equal(t, "directory table has no free slot group large enough: root: 2MiB cap reached", err.Error())
	assert.ErrorIs(t, err, errkind.ErrDirectoryFull)
	assert.Equal(t, errkind.KindDirectoryFull, err.Kind())
}
