// ABOUTME: E2EE setup for the patron-matrix bridge via mautrix cryptohelper
// ABOUTME: Survives device ID churn by resetting the crypto store and retrying once

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the bridge's end-to-end encryption state.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE on the client. The crypto store is a SQLite file
// under dataDir, named and keyed per user so side-by-side bot accounts stay
// isolated. A recovery key upgrades the session to cross-signed; without one
// (or when verification fails) encryption still works, just unverified.
func SetupCrypto(ctx context.Context, client *mautrix.Client, userID, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption initialized (no recovery key, cross-signing disabled)")
		return cm, nil
	}
	if err := cm.verifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed, continuing unverified", "error", err)
		return cm, nil
	}
	logger.Info("encryption initialized with cross-signing verification")
	return cm, nil
}

// verifyWithRecoveryKey cross-signs this device using the account's recovery
// key so other verified devices trust it.
func (cm *CryptoManager) verifyWithRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return fmt.Errorf("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification: %w", err)
	}
	cm.logger.Info("device verified with recovery key")
	return nil
}

// Helper exposes the underlying CryptoHelper.
func (cm *CryptoManager) Helper() *cryptohelper.CryptoHelper {
	return cm.helper
}

func (cm *CryptoManager) Close() error {
	if cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

// initCryptoHelper builds and initializes the helper. A fresh password login
// mints a new device ID while the store still holds the old device's keys;
// that mismatch is checked for up front and, if the pre-check misses it,
// caught from Init's error. Either way the store is reset once and retried.
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if stale, err := storedDeviceDiffers(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device ID", "error", err)
	} else if stale {
		logger.Warn("device ID mismatch detected, resetting crypto store")
		if err := resetCryptoStore(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}

	err = helper.Init(ctx)
	if err != nil && isDeviceIDMismatch(err) {
		logger.Warn("crypto init hit device ID mismatch, resetting and retrying")
		_ = helper.Close()
		if rmErr := resetCryptoStore(dbPath); rmErr != nil {
			return nil, rmErr
		}
		helper, err = cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
		if err != nil {
			return nil, fmt.Errorf("recreating crypto helper: %w", err)
		}
		err = helper.Init(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

// storedDeviceDiffers reports whether an existing crypto store belongs to a
// different device than the one the client is logged in as.
func storedDeviceDiffers(dbPath, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != currentDeviceID, nil
}

// resetCryptoStore removes the crypto database and its WAL sidecars.
func resetCryptoStore(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

func isDeviceIDMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "mismatching device ID")
}

// slugify makes a Matrix user ID filesystem safe: @patronbot:matrix.org
// becomes patronbot_matrix.org.
func slugify(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// deriveStoreKey derives the store encryption key from the user ID, keeping
// per-user stores unreadable with each other's key without any external
// secret to manage.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("patron-matrix-crypto:" + userID))
	return h[:]
}
