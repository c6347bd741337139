package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seralia/guildmind/internal/types"
)

func TestDBSchemaVisibleAcrossConnections(t *testing.T) {
	gdb := DB(t)

	// Fan out enough writers that gorm's pool opens more than one
	// connection; every one of them must see the migrated schema.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row := &types.Turn{
				ConversationID: "g1",
				TurnID:         fmt.Sprintf("m%d", i),
				Role:           types.RoleUser,
				Content:        "hello",
				Timestamp:      time.Now().UTC(),
			}
			if err := gdb.Create(row).Error; err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}

	var count int64
	if err := gdb.Model(&types.Turn{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8 {
		t.Errorf("count = %d, want 8", count)
	}
}
