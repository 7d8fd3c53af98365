package model

import (
	"context"

	"github.com/harunnryd/wikichat/internal/model/contract"
)

// Provider opens one streaming model call per round of the chat loop.
type Provider interface {
	Stream(ctx context.Context, req contract.StreamRequest) (contract.Stream, error)
	Name() string
}
