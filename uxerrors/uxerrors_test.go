package uxerrors_test

import (
	"errors"
	"testing"

	"github.com/kavalcante/uxfs/uxerrors"
	"github.com/stretchr/testify/assert"
)

func TestWithMessage(t *testing.T) {
	err := uxerrors.ErrNotFound.WithMessage("/foo/bar")
	assert.Equal(t, "no such file or directory: /foo/bar", err.Error())
	assert.ErrorIs(t, err, uxerrors.ErrNotFound)
}

func TestWrap(t *testing.T) {
	original := errors.New("disk read failed")
	err := uxerrors.ErrIO.Wrap(original)
	assert.Equal(t, "input/output error: disk read failed", err.Error())
	assert.ErrorIs(t, err, original)
}

func TestChainedMessages(t *testing.T) {
	err := uxerrors.ErrExists.WithMessage("create").WithMessage("/a/b")
	assert.Equal(t, "file exists: create: /a/b", err.Error())
	assert.ErrorIs(t, err, uxerrors.ErrExists)
}
