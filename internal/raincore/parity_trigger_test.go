package raincore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Anthya1104/rain-striper/internal/config"
)

// Pins the parity-job trigger: a group is handed to the worker only
// when it actually fills, never merely because a write landed at the
// group's first byte.
func TestParityTrigger_FiresOnGroupFullNotOnOffsetZero(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 64, config.DoubleParity)
	bs := int(layout.BlockSizeB)
	groupBytes := int(layout.GroupSizeBytes())
	hdrSize := int64(layout.HeaderSizeB)

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	logicalToPhys := append([]int(nil), rc.logicalToPhys...)
	parityFile := c.file(logicalToPhys[layout.D()]) // the P column's stripe

	// One block at group-relative offset 0: the group is far from full.
	_, status := rc.Write(ctx, 0, patternBytes(0, bs))
	assert.Nil(t, status)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rc.groups.Size(), "the partial group must stay resident, unprocessed")
	st, err := parityFile.Stat(ctx)
	assert.NoError(t, err)
	assert.Equal(t, hdrSize, st.Size, "no parity may be written for a group that has not filled")

	// Complete the group; now the handoff must happen.
	_, status = rc.Write(ctx, int64(bs), patternBytes(int64(bs), groupBytes-bs))
	assert.Nil(t, status)

	assert.Eventually(t, func() bool {
		st, err := parityFile.Stat(ctx)
		return err == nil && st.Size == hdrSize+int64(layout.D()*bs)
	}, 2*time.Second, 10*time.Millisecond, "the full parity column must be flushed once the group fills")

	assert.Eventually(t, func() bool { return rc.groups.Size() == 0 },
		2*time.Second, 10*time.Millisecond, "the worker must recycle the group after flushing it")

	assert.Nil(t, rc.Close(ctx))
}
