package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	cause := errors.New("boom")

	err := fmt.Errorf("deploy module web: %w", Git("git clone", cause))
	assert.True(t, IsKind(err, KindGit))
	assert.False(t, IsAbort(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "deploy module web: git clone: boom", err.Error())

	assert.True(t, IsKind(Cloud("suspend", cause), KindCloud))
	assert.True(t, IsKind(Upload("put", cause), KindUpload))
	assert.True(t, IsKind(Packaging("tar", cause), KindPackaging))
	assert.True(t, IsKind(Manifest("read", cause), KindManifest))
	assert.False(t, IsKind(cause, KindGit))
}

func TestAbort(t *testing.T) {
	err := Abort("Autoscaling Group of offline app %s should be empty.", "app-2")
	assert.True(t, IsAbort(err))
	assert.Equal(t, "Autoscaling Group of offline app app-2 should be empty.", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
