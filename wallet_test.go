package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-wallet/bridge/pkg/popup"
	"github.com/gemini-wallet/bridge/pkg/storage"
	"github.com/gemini-wallet/bridge/pkg/wire"
)

type fakeReceipts struct {
	receipt *types.Receipt
	err     error
	calls   atomic.Int32
}

func (f *fakeReceipts) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

func (f *fakeReceipts) dialer() ReceiptDialer {
	return func(context.Context, string) (ReceiptClient, error) { return f, nil }
}

type walletFixture struct {
	wallet *Wallet
	opener *popup.PipeOpener
	store  storage.Store
}

func newWalletFixture(t *testing.T, store storage.Store, dialer ReceiptDialer) *walletFixture {
	t.Helper()

	if store == nil {
		store = storage.NewMemoryStore()
	}
	opener := popup.NewPipeOpener(testWalletOrigin)
	comm := newTestCommunicator(t, opener, nil)
	wallet := NewWallet(WalletConfig{
		Communicator:  comm,
		Store:         store,
		ReceiptDialer: dialer,
		Metrics:       NewMetricsWithRegistry(prometheus.NewRegistry()),
	})
	return &walletFixture{wallet: wallet, opener: opener, store: store}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWalletHydration(t *testing.T) {
	t.Run("defaults when storage is empty", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		ctx := testCtx(t)

		chain, err := f.wallet.ActiveChain(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), chain.ID)

		accounts, err := f.wallet.Accounts(ctx)
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})

	t.Run("restores persisted chain and accounts", func(t *testing.T) {
		ctx := testCtx(t)
		store := storage.NewMemoryStore()
		require.NoError(t, storage.StoreObject(ctx, store, storeKeyChain, Chain{ID: 8453, Name: "base", RPCURL: "https://mainnet.base.org"}))
		require.NoError(t, storage.StoreObject(ctx, store, storeKeyAccounts, []string{"0xabc"}))

		f := newWalletFixture(t, store, nil)

		chain, err := f.wallet.ActiveChain(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(8453), chain.ID)

		connected, err := f.wallet.Connected(ctx)
		require.NoError(t, err)
		assert.True(t, connected)
	})
}

func TestWalletConnect(t *testing.T) {
	t.Run("stores the returned address", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventConnect {
				emitResponse(r, msg, wire.ConnectResponseData{Address: "0xabc"})
			}
		})
		ctx := testCtx(t)

		accounts, err := f.wallet.Connect(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"0xabc"}, accounts)

		// Persisted, and readable without another popup round trip.
		var stored []string
		found, err := storage.LoadObject(ctx, f.store, storeKeyAccounts, &stored)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []string{"0xabc"}, stored)

		again, err := f.wallet.Accounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, accounts, again)
		assert.Equal(t, 1, f.opener.OpenCount())
	})

	t.Run("wallet-side rejection surfaces as an error", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventConnect {
				emitResponse(r, msg, wire.ConnectResponseData{Error: "user declined"})
			}
		})

		_, err := f.wallet.Connect(testCtx(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "user declined")

		connected, err := f.wallet.Connected(testCtx(t))
		require.NoError(t, err)
		assert.False(t, connected)
	})
}

func TestWalletDisconnect(t *testing.T) {
	ctx := testCtx(t)
	store := storage.NewMemoryStore()
	require.NoError(t, storage.StoreObject(ctx, store, storeKeyAccounts, []string{"0xabc"}))

	f := newWalletFixture(t, store, nil)
	require.NoError(t, f.wallet.Disconnect(ctx))

	accounts, err := f.wallet.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, found, err := store.GetItem(ctx, storeKeyAccounts)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSwitchChain(t *testing.T) {
	t.Run("supported chain switches locally without a popup", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		ctx := testCtx(t)

		require.NoError(t, f.wallet.SwitchChain(ctx, 137, ""))
		assert.Equal(t, 0, f.opener.OpenCount())

		chain, err := f.wallet.ActiveChain(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(137), chain.ID)
		assert.NotEmpty(t, chain.RPCURL)

		var stored Chain
		found, err := storage.LoadObject(ctx, f.store, storeKeyChain, &stored)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, uint64(137), stored.ID)
	})

	t.Run("caller RPC URL overrides the default", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		ctx := testCtx(t)

		require.NoError(t, f.wallet.SwitchChain(ctx, 10, "https://op.internal:8545"))

		chain, err := f.wallet.ActiveChain(ctx)
		require.NoError(t, err)
		assert.Equal(t, "https://op.internal:8545", chain.RPCURL)
	})

	t.Run("unsupported chain goes through one popup round trip", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		var switchRequests atomic.Int32
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventSwitchChain {
				switchRequests.Add(1)
				emitResponse(r, msg, wire.SwitchChainResponseData{Error: "chain 999 is not available"})
			}
		})

		err := f.wallet.SwitchChain(testCtx(t), 999, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chain 999 is not available")
		assert.Equal(t, int32(1), switchRequests.Load())
	})

	t.Run("unsupported chain with a silent wallet gets the default refusal", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventSwitchChain {
				emitResponse(r, msg, wire.SwitchChainResponseData{})
			}
		})

		err := f.wallet.SwitchChain(testCtx(t), 999, "")
		require.Error(t, err)
		assert.Equal(t, "Unsupported chain.", err.Error())
	})
}

func TestOperationRoundTrips(t *testing.T) {
	f := newWalletFixture(t, nil, nil)
	runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
		switch msg.Event {
		case wire.EventSendTransaction:
			emitResponse(r, msg, wire.OperationResponseData{Hash: "0xdead"})
		case wire.EventSignData:
			emitResponse(r, msg, wire.OperationResponseData{Signature: "0xsig"})
		case wire.EventSignTypedData:
			emitResponse(r, msg, wire.OperationResponseData{Error: "user denied signature"})
		}
	})
	ctx := testCtx(t)

	t.Run("send transaction returns the hash", func(t *testing.T) {
		data, err := f.wallet.SendTransaction(ctx, json.RawMessage(`{"to":"0x1","value":"0x0"}`))
		require.NoError(t, err)
		assert.Equal(t, "0xdead", data.Hash)
	})

	t.Run("sign data returns the signature", func(t *testing.T) {
		data, err := f.wallet.SignData(ctx, json.RawMessage(`["0xmessage","0xabc"]`))
		require.NoError(t, err)
		assert.Equal(t, "0xsig", data.Signature)
	})

	t.Run("wallet-side errors travel inside the payload", func(t *testing.T) {
		data, err := f.wallet.SignTypedData(ctx, json.RawMessage(`[]`))
		require.NoError(t, err)
		assert.Equal(t, "user denied signature", data.Error)
	})
}

func TestSendCalls(t *testing.T) {
	t.Run("empty batch fails before any popup interaction", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)

		_, err := f.wallet.SendCalls(testCtx(t), SendCallsParams{ChainID: "0x1"})
		require.ErrorIs(t, err, ErrNoCalls)
		assert.Equal(t, 0, f.opener.OpenCount())
	})

	t.Run("chain mismatch fails before any popup interaction", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)

		_, err := f.wallet.SendCalls(testCtx(t), SendCallsParams{
			ChainID: "0x89",
			Calls:   []wire.Call{{To: "0x1"}},
		})
		require.ErrorIs(t, err, ErrChainMismatch)
		assert.Equal(t, 0, f.opener.OpenCount())
	})

	t.Run("invalid chain id encoding is rejected", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)

		_, err := f.wallet.SendCalls(testCtx(t), SendCallsParams{
			ChainID: "1",
			Calls:   []wire.Call{{To: "0x1"}},
		})
		require.Error(t, err)
		assert.Equal(t, 0, f.opener.OpenCount())
	})

	t.Run("successful batch records the transaction hash", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		var reqData wire.BatchCallsRequestData
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventSendBatchCalls {
				_ = msg.DecodeData(&reqData)
				emitResponse(r, msg, wire.BatchCallsResponseData{Hash: "0xdead"})
			}
		})
		ctx := testCtx(t)

		result, err := f.wallet.SendCalls(ctx, SendCallsParams{
			ChainID: "0x1",
			From:    "0x00000000000000000000000000000000000000aa",
			Calls:   []wire.Call{{To: "0x00000000000000000000000000000000000000bb", Data: "0x01"}},
		})
		require.NoError(t, err)

		require.NotEmpty(t, result.ID)
		assert.Equal(t, []string{"0xdead"}, result.Capabilities.CAIP345.TransactionHashes)
		assert.Equal(t, result.ID, reqData.BatchID)

		meta, ok, err := f.wallet.getBatch(ctx, result.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "0xdead", meta.Hash)
		assert.Equal(t, BatchStatusPending, meta.Status)
		assert.Equal(t, uint64(1), meta.ChainID)
	})

	t.Run("wallet rejection marks the batch failed", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventSendBatchCalls {
				emitResponse(r, msg, wire.BatchCallsResponseData{Error: "user rejected batch"})
			}
		})
		ctx := testCtx(t)

		_, err := f.wallet.SendCalls(ctx, SendCallsParams{
			ChainID: "0x1",
			Calls:   []wire.Call{{To: "0x00000000000000000000000000000000000000bb"}},
		})
		require.Error(t, err)

		batches, err := f.wallet.loadBatches(ctx)
		require.NoError(t, err)
		require.Len(t, batches, 1)
		for _, meta := range batches {
			assert.Equal(t, BatchStatusFailed, meta.Status)
		}
	})
}

func TestGetCallsStatus(t *testing.T) {
	seedBatch := func(t *testing.T, store storage.Store, meta *BatchMetadata) {
		t.Helper()
		require.NoError(t, storage.StoreObject(testCtx(t), store, storeKeyBatches,
			map[string]*BatchMetadata{meta.ID: meta}))
	}

	t.Run("unknown batch id fails without a network call", func(t *testing.T) {
		receipts := &fakeReceipts{}
		f := newWalletFixture(t, nil, receipts.dialer())

		_, err := f.wallet.GetCallsStatus(testCtx(t), "nope")
		require.ErrorIs(t, err, ErrBatchNotFound)
		assert.Equal(t, int32(0), receipts.calls.Load())
	})

	t.Run("pending batch without a hash reports 100", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seedBatch(t, store, &BatchMetadata{ID: "b1", ChainID: 1, Status: BatchStatusPending})
		receipts := &fakeReceipts{}
		f := newWalletFixture(t, store, receipts.dialer())

		result, err := f.wallet.GetCallsStatus(testCtx(t), "b1")
		require.NoError(t, err)
		assert.Equal(t, 100, result.Status)
		assert.Equal(t, "0x1", result.ChainID)
		assert.Empty(t, result.Receipts)
		assert.Equal(t, int32(0), receipts.calls.Load())
	})

	t.Run("successful receipt confirms the batch", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seedBatch(t, store, &BatchMetadata{ID: "b1", ChainID: 1, Hash: "0xdead", Status: BatchStatusPending})
		receipts := &fakeReceipts{receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockHash:   common.HexToHash("0x42"),
			BlockNumber: big.NewInt(1337),
			GasUsed:     21000,
			TxHash:      common.HexToHash("0xdead"),
			Logs: []*types.Log{{
				Address: common.HexToAddress("0xbb"),
				Topics:  []common.Hash{common.HexToHash("0x01")},
				Data:    []byte{0xff},
			}},
		}}
		f := newWalletFixture(t, store, receipts.dialer())
		ctx := testCtx(t)

		result, err := f.wallet.GetCallsStatus(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 200, result.Status)
		require.Len(t, result.Receipts, 1)
		assert.Equal(t, "0x1", result.Receipts[0].Status)
		assert.Equal(t, "0x539", result.Receipts[0].BlockNumber)
		assert.Equal(t, "0x5208", result.Receipts[0].GasUsed)
		require.Len(t, result.Receipts[0].Logs, 1)
		assert.Equal(t, "0xff", result.Receipts[0].Logs[0].Data)

		// The transition is persisted.
		meta, ok, err := f.wallet.getBatch(ctx, "b1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, BatchStatusConfirmed, meta.Status)
	})

	t.Run("reverted receipt reports 500", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seedBatch(t, store, &BatchMetadata{ID: "b1", ChainID: 1, Hash: "0xdead", Status: BatchStatusPending})
		receipts := &fakeReceipts{receipt: &types.Receipt{
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(1),
			TxHash:      common.HexToHash("0xdead"),
		}}
		f := newWalletFixture(t, store, receipts.dialer())

		result, err := f.wallet.GetCallsStatus(testCtx(t), "b1")
		require.NoError(t, err)
		assert.Equal(t, 500, result.Status)
	})

	t.Run("receipt lookup failure degrades to the stored status", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seedBatch(t, store, &BatchMetadata{ID: "b1", ChainID: 1, Hash: "0xdead", Status: BatchStatusPending})
		receipts := &fakeReceipts{err: fmt.Errorf("not found")}
		f := newWalletFixture(t, store, receipts.dialer())

		result, err := f.wallet.GetCallsStatus(testCtx(t), "b1")
		require.NoError(t, err)
		assert.Equal(t, 100, result.Status)
		assert.Equal(t, int32(1), receipts.calls.Load())
	})

	t.Run("chain without an RPC URL skips the lookup", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seedBatch(t, store, &BatchMetadata{ID: "b1", ChainID: 555, Hash: "0xdead", Status: BatchStatusPending})
		receipts := &fakeReceipts{}
		f := newWalletFixture(t, store, receipts.dialer())

		result, err := f.wallet.GetCallsStatus(testCtx(t), "b1")
		require.NoError(t, err)
		assert.Equal(t, 100, result.Status)
		assert.Equal(t, int32(0), receipts.calls.Load())
	})
}

func TestShowCallsStatus(t *testing.T) {
	t.Run("unknown batch id fails without a popup interaction", func(t *testing.T) {
		f := newWalletFixture(t, nil, nil)

		err := f.wallet.ShowCallsStatus(testCtx(t), "nope")
		require.ErrorIs(t, err, ErrBatchNotFound)
		assert.Equal(t, 0, f.opener.OpenCount())
	})

	t.Run("fires the settings message for a known batch", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, storage.StoreObject(testCtx(t), store, storeKeyBatches,
			map[string]*BatchMetadata{"b1": {ID: "b1", ChainID: 1, Status: BatchStatusPending}}))

		f := newWalletFixture(t, store, nil)
		shown := make(chan wire.Message, 1)
		runWalletStub(f.opener, func(r *popup.PipeRemote, msg wire.Message) {
			if msg.Event == wire.EventOpenSettings {
				shown <- msg
			}
		})

		require.NoError(t, f.wallet.ShowCallsStatus(testCtx(t), "b1"))

		select {
		case msg := <-shown:
			var data wire.ShowBatchData
			require.NoError(t, msg.DecodeData(&data))
			assert.Equal(t, "b1", data.BatchID)
		case <-time.After(2 * time.Second):
			t.Fatal("settings message never arrived")
		}
	})
}

func TestGetCapabilities(t *testing.T) {
	f := newWalletFixture(t, nil, nil)

	t.Run("requested chains", func(t *testing.T) {
		caps := f.wallet.GetCapabilities(1, 555)

		require.Contains(t, caps, "0x1")
		assert.True(t, caps["0x1"].AtomicBatch.Supported)
		assert.False(t, caps["0x1"].PaymasterService.Supported)

		require.Contains(t, caps, "0x22b")
		assert.False(t, caps["0x22b"].AtomicBatch.Supported)
	})

	t.Run("defaults to the whole registry", func(t *testing.T) {
		caps := f.wallet.GetCapabilities()
		assert.Len(t, caps, len(NewChainRegistry().IDs()))
	})
}
