package memory_test

import (
	"testing"

	"xdao.co/twine/storage"
	"xdao.co/twine/storage/memory"
	"xdao.co/twine/storage/testkit"
)

func TestMemoryConformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		return memory.New()
	})
}
