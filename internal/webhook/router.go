package webhook

import (
	"context"
	"fmt"
	"log/slog"
)

// Lookup is a read-only existence check against a transaction store.
type Lookup interface {
	ExistsByExternalEntryID(ctx context.Context, entryID string) (bool, error)
}

// Peer is another deployment sharing the payment processor account.
type Peer struct {
	Name    string
	BaseURL string
	Store   Lookup
}

type RouteKind string

const (
	RouteLocal   RouteKind = "local"
	RouteRemote  RouteKind = "remote"
	RouteUnknown RouteKind = "unknown"
)

// Route is where a webhook has to be handled: LocalRoute, RemoteRoute or
// UnknownRoute.
type Route interface {
	Kind() RouteKind
}

type LocalRoute struct{}

func (LocalRoute) Kind() RouteKind { return RouteLocal }

type RemoteRoute struct {
	Peer Peer
}

func (RemoteRoute) Kind() RouteKind { return RouteRemote }

type UnknownRoute struct{}

func (UnknownRoute) Kind() RouteKind { return RouteUnknown }

type Router struct {
	local Lookup
	peers []Peer
	log   *slog.Logger
}

func NewRouter(local Lookup, peers ...Peer) *Router {
	return &Router{
		local: local,
		peers: peers,
		log:   slog.With("component", "router"),
	}
}

// Route resolves the owner of the transaction with the entry id. The local
// store is authoritative; peers are only asked when it has no such
// transaction and an unreachable peer is skipped.
func (r *Router) Route(ctx context.Context, entryID string) (Route, error) {
	exists, err := r.local.ExistsByExternalEntryID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("local lookup: %w", err)
	}

	if exists {
		return LocalRoute{}, nil
	}

	for _, peer := range r.peers {
		exists, err := peer.Store.ExistsByExternalEntryID(ctx, entryID)
		if err != nil {
			r.log.Warn("peer lookup failed",
				"peer", peer.Name,
				"entry_id", entryID,
				"error", err,
			)
			continue
		}

		if exists {
			r.log.Info("Transaction belongs to a peer", "peer", peer.Name,
				"entry_id", entryID)
			return RemoteRoute{Peer: peer}, nil
		}
	}

	return UnknownRoute{}, nil
}
