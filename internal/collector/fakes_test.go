package collector

import (
	"context"
)

type fakeProcessSource struct {
	batches [][]ProcessInfo
	err     error
	calls   int
}

func (f *fakeProcessSource) Processes(ctx context.Context) ([]ProcessInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	f.calls++
	return f.batches[i], nil
}

type fakeConnectionSource struct {
	conns []ConnectionInfo
	err   error
}

func (f *fakeConnectionSource) Connections(ctx context.Context) ([]ConnectionInfo, error) {
	return f.conns, f.err
}
