package adapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

func TestWarnDirtyCheckout_CleanCheckout(t *testing.T) {
	var statusDir string

	adapter := &LocalCheckoutAdapter{gitStatus: func(dir string) (string, error) {
		statusDir = dir
		return "", nil
	}}

	root := t.TempDir()
	adapter.WarnDirtyCheckout(m.Path(root))

	assert.Equal(t, root, statusDir)
}

func TestWarnDirtyCheckout_DirtyCheckoutDoesNotPanic(t *testing.T) {
	adapter := &LocalCheckoutAdapter{gitStatus: func(string) (string, error) {
		return " M internal/domain/worker.go", nil
	}}

	adapter.WarnDirtyCheckout(m.Path(t.TempDir()))
}

func TestWarnDirtyCheckout_GitFailureIsNonFatal(t *testing.T) {
	adapter := &LocalCheckoutAdapter{gitStatus: func(string) (string, error) {
		return "", errors.New("not a git repository")
	}}

	adapter.WarnDirtyCheckout(m.Path(t.TempDir()))
}

func TestNewLocalCheckoutAdapter(t *testing.T) {
	assert.NotNil(t, NewLocalCheckoutAdapter().gitStatus)
}
