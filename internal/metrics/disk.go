package metrics

import (
	"context"
	"io"
	"time"

	"github.com/vbonduro/memelib/internal/disk"
)

type instrumentedDisk struct {
	disk.Disk
	backend string
	m       *Metrics
}

// InstrumentDisk records the latency of every Ensure, Save and Delete call
// on d under the given backend label.
func InstrumentDisk(d disk.Disk, backend string, m *Metrics) disk.Disk {
	return &instrumentedDisk{Disk: d, backend: backend, m: m}
}

func (d *instrumentedDisk) Ensure(ctx context.Context) error {
	defer d.observe("ensure", time.Now())
	return d.Disk.Ensure(ctx)
}

func (d *instrumentedDisk) Save(ctx context.Context, key string, r io.Reader) error {
	defer d.observe("save", time.Now())
	return d.Disk.Save(ctx, key, r)
}

func (d *instrumentedDisk) Delete(ctx context.Context, key string) error {
	defer d.observe("delete", time.Now())
	return d.Disk.Delete(ctx, key)
}

func (d *instrumentedDisk) observe(operation string, start time.Time) {
	d.m.observeStorage(d.backend, operation, time.Since(start).Seconds())
}
