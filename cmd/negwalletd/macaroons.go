package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	macaroon "gopkg.in/macaroon.v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const macaroonLocation = "negwalletd"

// macaroonAuth owns the daemon's single admin macaroon: a root key baked
// once into the datadir and a macaroon minted from it on every startup,
// mirroring the teacher's macaroons.Service but reduced to the one
// capability this daemon exposes (full admin access to its own RPC
// surface) rather than the teacher's per-permission bakery.
type macaroonAuth struct {
	rootKey  []byte
	macaroon *macaroon.Macaroon
}

func rootKeyPath(dataDir string) string {
	return filepath.Join(dataDir, "macaroon.key")
}

// newMacaroonAuth loads (or creates, on first run) the root key in dataDir
// and mints the admin macaroon, writing it to macaroonFile if that file
// doesn't already exist.
func newMacaroonAuth(dataDir, macaroonFile string) (*macaroonAuth, error) {
	rootKey, err := loadOrCreateRootKey(rootKeyPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("loading root key: %w", err)
	}

	m, err := macaroon.New(rootKey, []byte("admin"), macaroonLocation, macaroon.LatestVersion)
	if err != nil {
		return nil, fmt.Errorf("minting macaroon: %w", err)
	}

	if _, err := os.Stat(macaroonFile); os.IsNotExist(err) {
		raw, err := m.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("serializing macaroon: %w", err)
		}
		if err := os.WriteFile(macaroonFile, raw, 0600); err != nil {
			return nil, fmt.Errorf("writing macaroon file: %w", err)
		}
		log.Infof("wrote new admin macaroon to %s", macaroonFile)
	}

	return &macaroonAuth{rootKey: rootKey, macaroon: m}, nil
}

func loadOrCreateRootKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != 32 {
			return nil, fmt.Errorf("root key file %s is corrupt", path)
		}
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// verify checks raw (the "macaroon" metadata value a client sends) against
// the daemon's own macaroon and root key.
func (a *macaroonAuth) verify(raw []byte) error {
	var m macaroon.Macaroon
	if err := m.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("malformed macaroon: %w", err)
	}
	// The single caveat-free admin macaroon never needs a caveat checker;
	// an empty check func rejects any caveat, which correctly refuses a
	// macaroon this daemon didn't mint with extra restrictions attached.
	check := func(caveat string) error {
		return fmt.Errorf("unrecognized caveat: %q", caveat)
	}
	return m.Verify(a.rootKey, check, nil)
}

// unaryInterceptor rejects any call that doesn't carry a valid macaroon in
// its "macaroon" metadata key, the same shape the teacher's rpcperms
// interceptor checks before dispatching to the handler.
func (a *macaroonAuth) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no metadata in request")
	}
	vals := md.Get("macaroon")
	if len(vals) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing macaroon")
	}
	if err := a.verify([]byte(vals[0])); err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "invalid macaroon: %v", err)
	}
	return handler(ctx, req)
}
