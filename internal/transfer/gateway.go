package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/monitoring"
	"github.com/sells-group/terms-cli/internal/resilience"
	"github.com/sells-group/terms-cli/internal/store"
)

// maxAttempts is the integrity contract: exactly three checksum-verified send
// attempts, then the transfer fails and an operator alert goes out.
const maxAttempts = 3

// Gateway sends output batches to the destination system with checksum
// verification. Every transfer writes an append-only TransferLog regardless
// of outcome.
type Gateway struct {
	sender  Sender
	store   store.Store
	alerter *monitoring.Alerter
}

// NewGateway creates a transfer gateway.
func NewGateway(sender Sender, st store.Store, alerter *monitoring.Alerter) *Gateway {
	return &Gateway{sender: sender, store: st, alerter: alerter}
}

// Transfer sends the file at localPath, verifying the destination copy's
// SHA-256 against the local one. A mismatch or send failure is retried up to
// the attempt bound; after the last mismatch the transfer is marked failed
// and a TransferIntegrityFailureError is returned.
func (g *Gateway) Transfer(ctx context.Context, localPath string) (*model.TransferLog, error) {
	filename := filepath.Base(localPath)

	sum, size, err := fileChecksum(localPath)
	if err != nil {
		return nil, err
	}

	tl := &model.TransferLog{
		Filename:       filename,
		FileSize:       size,
		ChecksumSHA256: sum,
		Direction:      "outbound",
		Status:         model.TransferSending,
	}
	if err := g.store.CreateTransferLog(ctx, tl); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return tl, err
		}
		tl.Attempts = attempt

		lastErr = g.sendVerified(ctx, localPath, filename, sum)
		if lastErr == nil {
			now := time.Now().UTC()
			tl.Status = model.TransferCompleted
			tl.TransferredAt = &now
			tl.Error = ""
			if err := g.store.UpdateTransferLog(ctx, tl); err != nil {
				return tl, err
			}
			g.audit(ctx, tl, "transfer_completed")
			zap.L().Info("transfer: completed",
				zap.String("filename", filename),
				zap.String("checksum", sum),
				zap.Int("attempts", attempt),
			)
			return tl, nil
		}

		tl.Error = lastErr.Error()
		if err := g.store.UpdateTransferLog(ctx, tl); err != nil {
			return tl, err
		}
		zap.L().Warn("transfer: attempt failed",
			zap.String("filename", filename),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	tl.Status = model.TransferFailed
	if err := g.store.UpdateTransferLog(ctx, tl); err != nil {
		return tl, err
	}
	g.audit(ctx, tl, "transfer_failed")

	failure := &resilience.TransferIntegrityFailureError{Filename: filename, Attempts: maxAttempts}
	if g.alerter != nil {
		g.alerter.Send(ctx, monitoring.Alert{
			Type:     monitoring.AlertTransferIntegrity,
			Severity: "high",
			Message:  failure.Error(),
			Details: map[string]any{
				"filename": filename,
				"checksum": sum,
				"attempts": maxAttempts,
				"last_err": lastErr.Error(),
			},
		})
	}
	return tl, failure
}

// sendVerified performs one send plus read-back checksum comparison.
func (g *Gateway) sendVerified(ctx context.Context, localPath, remoteName, wantSum string) error {
	if err := g.sender.Send(ctx, localPath, remoteName); err != nil {
		return err
	}

	data, err := g.sender.Fetch(ctx, remoteName)
	if err != nil {
		return err
	}

	gotSum := sha256.Sum256(data)
	if got := hex.EncodeToString(gotSum[:]); got != wantSum {
		return eris.Errorf("transfer: checksum mismatch for %s: want %s got %s", remoteName, wantSum, got)
	}
	return nil
}

func (g *Gateway) audit(ctx context.Context, tl *model.TransferLog, action string) {
	err := g.store.AppendAudit(ctx, &model.AuditLog{
		EventType:  "transfer",
		EntityType: "transfer_log",
		EntityID:   tl.ID,
		Actor:      "system",
		Action:     action,
		Details:    fmt.Sprintf(`{"filename":%q,"attempts":%d}`, tl.Filename, tl.Attempts),
	})
	if err != nil {
		zap.L().Warn("transfer: audit write failed", zap.Error(err))
	}
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, eris.Wrapf(err, "transfer: open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, eris.Wrapf(err, "transfer: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
