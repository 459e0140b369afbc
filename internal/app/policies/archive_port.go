package policies

import "context"

// ReportArchive stores sweep reports for later reconciliation.
type ReportArchive interface {
	Archive(ctx context.Context, name string, payload []byte) (string, error)
}

type NopArchive struct{}

func (NopArchive) Archive(context.Context, string, []byte) (string, error) { return "", nil }
