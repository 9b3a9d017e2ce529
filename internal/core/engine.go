package core

import (
	"ParamLedger/internal/event"
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ledger"
	"ParamLedger/internal/observability"
	"ParamLedger/internal/oracle"
	"ParamLedger/internal/state"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const DefaultLRUCapacity = 1_000_000

// Config wires a DeterministicCore. Zero values pick defaults; nil channels
// disable that output.
type Config struct {
	StartSequence      int64
	LRUCapacity        int
	MaxOracleStaleness uint64
	PersistChan        chan<- CoreOutput
	ProjectionChan     chan<- CoreOutput
	DBChecker          DBIdempotencyChecker
	Metrics            *observability.Metrics
	Logger             zerolog.Logger
}

// DeterministicCore is the single-threaded command processor. It owns the
// record store and the custody ledger; nothing else mutates them.
type DeterministicCore struct {
	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	store          *state.Store
	trigger        *oracle.Trigger
	idempotency    *IdempotencyChecker
	metrics        *observability.Metrics
	logger         zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied
// command.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch  // nil for commands that move no value
	Records    []state.Record // records the command created or changed
	StateDelta []byte
}

// Result is returned to the submitter of a command.
type Result struct {
	Sequence  int64
	Duplicate bool
	StateHash [32]byte
	Records   []state.Record
}

func NewDeterministicCore(cfg Config) *DeterministicCore {
	if cfg.StartSequence <= 0 {
		cfg.StartSequence = 1
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = DefaultLRUCapacity
	}
	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		store:          state.NewStore(),
		trigger:        oracle.NewTrigger(cfg.MaxOracleStaleness),
		idempotency:    NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker, cfg.Metrics, cfg.Logger),
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}
}

// ProcessEvent is the main processing pipeline. A rejected command leaves
// every record and balance untouched and consumes no sequence number.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*Result, error) {
	return c.process(evt, false)
}

// ReplayEvent re-applies a logged command during recovery. The command must
// land on the logged sequence and reproduce the logged state hash. Replayed
// output is not sent to persistence again.
func (c *DeterministicCore) ReplayEvent(env *event.EventEnvelope) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay: logged sequence %d, core expects %d", env.Sequence, c.sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	res, err := c.process(evt, true)
	if err != nil {
		return fmt.Errorf("replay seq %d rejected: %w", env.Sequence, err)
	}
	if res.Duplicate {
		return fmt.Errorf("replay seq %d: command %s already applied", env.Sequence, env.IdempotencyKey)
	}
	if res.StateHash != env.StateHash {
		return fmt.Errorf("replay seq %d: state hash %x, logged %x", env.Sequence, res.StateHash, env.StateHash)
	}
	return nil
}

func (c *DeterministicCore) process(evt event.Event, replay bool) (*Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check. Replay skips the Postgres tier, which
	// already holds every logged command.
	var duplicate bool
	if replay {
		duplicate = c.idempotency.SeenRecently(eventType, idempotencyKey)
	} else {
		var err error
		duplicate, err = c.idempotency.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			return nil, c.reject(evt, err)
		}
	}
	if duplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return &Result{Duplicate: true}, nil
	}

	// Step 2: Stage record changes and collect transfers
	tx := c.store.Begin()
	transfers, err := c.dispatchEvent(tx, evt)
	if err != nil {
		tx.Rollback()
		return nil, c.reject(evt, err)
	}

	// Step 3: Journals, validated against current balances
	batch, err := c.journalGen.Generate(idempotencyKey, c.sequence, evt.Timestamp(), transfers)
	if err != nil {
		tx.Rollback()
		return nil, c.reject(evt, err)
	}
	if batch.Empty() {
		batch = nil
	} else if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		tx.Rollback()
		return nil, c.reject(evt, err)
	}

	// Step 4: Publish staged records
	records, err := tx.Commit()
	if err != nil {
		panic(fmt.Sprintf("FATAL: commit after balances applied: %v", err))
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(batch, records); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, records)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied command: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PartitionKey:   evt.PartitionKey(),
		Signer:         evt.Signer(),
		Timestamp:      evt.Timestamp(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Records:    records,
		StateDelta: stateDigest,
	}

	// Step 7: Emit. Persist is a blocking send so no applied command is lost;
	// projections are rebuilt from the log if they fall behind.
	if c.persistChan != nil && !replay {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	result := &Result{
		Sequence:  c.sequence,
		StateHash: stateHash,
		Records:   records,
	}
	c.sequence++

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence - 1))
		c.recordJournals(evt.EventType(), batch)
	}

	return result, nil
}

// settlementKinds are the commands counted as settlements.
var settlementKinds = map[event.EventType]bool{
	event.EventTypeRefundAfterExpiry:   true,
	event.EventTypeSettleClaim:         true,
	event.EventTypeSettleFlightClaim:   true,
	event.EventTypeSettleFlightNoClaim: true,
}

func (c *DeterministicCore) recordJournals(et event.EventType, batch *ledger.Batch) {
	settles := settlementKinds[et]
	if settles {
		c.metrics.SettlementsTotal.WithLabelValues(et.String()).Inc()
	}
	if batch == nil {
		return
	}
	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		if settles {
			asset, _ := ledger.GetAssetName(j.AssetID)
			c.metrics.SettledAmount.WithLabelValues(et.String(), asset).Add(float64(j.Amount))
		}
	}
}

func (c *DeterministicCore) reject(evt event.Event, err error) error {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(evt.EventType().String(), fault.Code(err)).Inc()
	}
	c.logger.Debug().
		Str("event_type", evt.EventType().String()).
		Str("command_id", evt.IdempotencyKey()).
		Str("signer", evt.Signer()).
		Err(err).
		Msg("command rejected")
	return err
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances of every account the batch touched, then every changed record.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, records []state.Record) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(records)*256)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = binary.BigEndian.AppendUint32(digest, uint32(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	for _, r := range records {
		b, err := state.CanonicalBytes(r)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		digest = appendInt64LE(digest, int64(len(b)))
		digest = append(digest, b...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants runs after the batch and records are applied.
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch, records []state.Record) error {
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			return err
		}
		if err := c.validator.ValidateTouchedNonNegative(batch); err != nil {
			return err
		}
	}
	for _, r := range records {
		pool, ok := r.(*state.RiskPool)
		if !ok {
			continue
		}
		if pool.Available < 0 || pool.Available > pool.TotalEscrowed {
			return fmt.Errorf("pool %s available %d outside [0, %d]", pool.PolicyID, pool.Available, pool.TotalEscrowed)
		}
		if err := c.validator.ValidateCustodyCovers(pool.Vault, pool.Available); err != nil {
			return err
		}
	}
	return nil
}

func (c *DeterministicCore) dispatchEvent(tx *state.Tx, evt event.Event) ([]ledger.Transfer, error) {
	switch e := evt.(type) {
	case *event.WalletFunded:
		return c.handleWalletFunded(e)
	case *event.CreatePolicy:
		return c.handleCreatePolicy(tx, e)
	case *event.OpenUnderwriting:
		return c.handleOpenUnderwriting(tx, e)
	case *event.AcceptShare:
		return c.handleAcceptShare(tx, e)
	case *event.RejectShare:
		return c.handleRejectShare(tx, e)
	case *event.ActivatePolicy:
		return c.handleActivatePolicy(tx, e)
	case *event.ExpirePolicy:
		return c.handleExpirePolicy(tx, e)
	case *event.RefundAfterExpiry:
		return c.handleRefundAfterExpiry(tx, e)
	case *event.RegisterPolicyholder:
		return c.handleRegisterPolicyholder(tx, e)
	case *event.CheckOracle:
		return c.handleCheckOracle(tx, e)
	case *event.ApproveClaim:
		return c.handleApproveClaim(tx, e)
	case *event.SettleClaim:
		return c.handleSettleClaim(tx, e)
	case *event.CreateMasterPolicy:
		return c.handleCreateMasterPolicy(tx, e)
	case *event.RegisterParticipantWallets:
		return c.handleRegisterParticipantWallets(tx, e)
	case *event.ConfirmMaster:
		return c.handleConfirmMaster(tx, e)
	case *event.ActivateMaster:
		return c.handleActivateMaster(tx, e)
	case *event.CreateFlightPolicy:
		return c.handleCreateFlightPolicy(tx, e)
	case *event.ResolveFlightDelay:
		return c.handleResolveFlightDelay(tx, e)
	case *event.SettleFlightClaim:
		return c.handleSettleFlightClaim(tx, e)
	case *event.SettleFlightNoClaim:
		return c.handleSettleFlightNoClaim(tx, e)
	default:
		return nil, fmt.Errorf("unknown event type %T: %w", evt, fault.ErrInvalidInput)
	}
}

// --- Read access ---

// Store exposes committed records for read paths running on the core
// goroutine (tests, snapshotting). Accessors return copies.
func (c *DeterministicCore) Store() *state.Store {
	return c.store
}

// Balance returns the custody ledger balance of key.
func (c *DeterministicCore) Balance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// ValidateGlobalBalance checks every asset nets to zero across all accounts.
func (c *DeterministicCore) ValidateGlobalBalance() error {
	return c.validator.ValidateGlobalBalance()
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the in-memory state needed for a warm restart.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Records         *state.Snapshot
	IdempotencyKeys []string
	OracleSlot      uint64
}

// RestoreFromSnapshot loads a snapshot; events after snap.Sequence are then
// replayed through ProcessEvent.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.balanceTracker.Restore(snap.Balances)
	if snap.Records != nil {
		c.store.Restore(snap.Records)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	c.trigger.SetClock(snap.OracleSlot)
}

// GetSequence returns the next sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Records:         c.store.Export(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
		OracleSlot:      c.trigger.Clock(),
	}
}
