package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubLedger struct {
	blockErr error
}

func (s *stubLedger) Submit(ctx context.Context, intentType IntentType, payload []byte) (string, error) {
	return "0xtx", nil
}

func (s *stubLedger) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	return &Receipt{Status: ReceiptStatusPending}, nil
}

func (s *stubLedger) GetEventLogs(ctx context.Context, eventName string, fromBlock, toBlock int64) ([]Event, error) {
	return nil, nil
}

func (s *stubLedger) LatestBlock(ctx context.Context) (int64, error) {
	if s.blockErr != nil {
		return 0, s.blockErr
	}
	return 100, nil
}

func TestNetworkProbe(t *testing.T) {
	ledger := &stubLedger{}
	probe := NewNetworkProbe(ledger)

	status := probe.Check(context.Background())
	assert.True(t, status.Online)
	assert.True(t, probe.Status().Online)

	// 链不可达时转为离线
	ledger.blockErr = errors.New("connection refused")
	status = probe.Check(context.Background())
	assert.False(t, status.Online)
	assert.False(t, probe.Status().Online)

	// 恢复后转回在线
	ledger.blockErr = nil
	status = probe.Check(context.Background())
	assert.True(t, status.Online)
}
