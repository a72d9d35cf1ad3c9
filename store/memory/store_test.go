package memory_test

import (
	"testing"

	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/store/memory"
	"github.com/xraph/rtp/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memory.New()
	})
}
