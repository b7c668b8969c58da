package txn

import (
	"math/rand"
	"testing"
	"time"
)

func TestMintConsumeRoundTrip(t *testing.T) {
	r := New(4, time.Minute, rand.New(rand.NewSource(1)))
	now := time.Now()

	tx, ok := r.Mint(Context{Kind: Ping}, now)
	if !ok {
		t.Fatal("mint failed")
	}
	ctx, ok := r.Consume(tx, now)
	if !ok || ctx.Kind != Ping {
		t.Fatalf("consume failed: ok=%v ctx=%v", ok, ctx)
	}
	if _, ok := r.Consume(tx, now); ok {
		t.Fatal("second consume of same tx should fail")
	}
}

func TestMintExhaustsPool(t *testing.T) {
	r := New(2, time.Minute, rand.New(rand.NewSource(1)))
	now := time.Now()
	if _, ok := r.Mint(Context{}, now); !ok {
		t.Fatal("mint 1 should succeed")
	}
	if _, ok := r.Mint(Context{}, now); !ok {
		t.Fatal("mint 2 should succeed")
	}
	if r.HasFree() {
		t.Fatal("pool should be exhausted")
	}
	if _, ok := r.Mint(Context{}, now); ok {
		t.Fatal("mint 3 should fail, pool exhausted")
	}
}

func TestReleaseFreesCapacity(t *testing.T) {
	r := New(1, time.Minute, rand.New(rand.NewSource(1)))
	now := time.Now()
	tx, ok := r.Mint(Context{}, now)
	if !ok {
		t.Fatal("mint failed")
	}
	if _, ok := r.Mint(Context{}, now); ok {
		t.Fatal("pool of 1 should be exhausted after first mint")
	}
	if _, ok := r.Consume(tx, now); !ok {
		t.Fatal("consume failed")
	}
	if !r.HasFree() {
		t.Fatal("consume should have freed the prefix")
	}
}

func TestExpireInvokesTimeoutHook(t *testing.T) {
	r := New(4, time.Minute, rand.New(rand.NewSource(1)))
	now := time.Now()
	var firedTx ID
	var fired bool
	_, ok := r.Mint(Context{Kind: Ping, OnTimeout: func(tx ID, sentAt time.Time) {
		fired = true
		firedTx = tx
	}}, now)
	if !ok {
		t.Fatal("mint failed")
	}

	r.Expire(now.Add(30 * time.Second)) // before timeout
	if fired {
		t.Fatal("should not have expired yet")
	}

	r.Expire(now.Add(2 * time.Minute))
	if !fired {
		t.Fatal("expected timeout hook to fire")
	}
	if firedTx == (ID{}) {
		t.Fatal("timeout hook should receive the tx id")
	}
	if !r.HasFree() {
		t.Fatal("expiry should have released the prefix")
	}
}

func TestNextAvailableAt(t *testing.T) {
	r := New(1, time.Minute, rand.New(rand.NewSource(1)))
	now := time.Now()
	if at := r.NextAvailableAt(); !at.IsZero() {
		t.Fatalf("pool not yet exhausted, want zero time, got %v", at)
	}
	if _, ok := r.Mint(Context{}, now); !ok {
		t.Fatal("mint failed")
	}
	want := now.Add(time.Minute)
	if at := r.NextAvailableAt(); !at.Equal(want) {
		t.Fatalf("want %v, got %v", want, at)
	}
}

func TestUnknownTransactionConsumeFails(t *testing.T) {
	r := New(4, time.Minute, rand.New(rand.NewSource(1)))
	if _, ok := r.Consume(ID{0xff, 0xff, 0, 0}, time.Now()); ok {
		t.Fatal("consume of never-minted tx should fail")
	}
}
