package core

import (
	"ParamLedger/internal/event"
	"ParamLedger/internal/ledger"
	"ParamLedger/internal/settlement"
	"ParamLedger/internal/state"

	"github.com/google/uuid"
)

func (c *DeterministicCore) handleCreateMasterPolicy(tx *state.Tx, evt *event.CreateMasterPolicy) ([]ledger.Transfer, error) {
	m, err := state.CreateMasterPolicy(evt.MasterID, evt.Signer(), evt.Terms, evt.Timestamp())
	if err != nil {
		return nil, err
	}
	return nil, tx.InsertMaster(m)
}

func (c *DeterministicCore) handleRegisterParticipantWallets(tx *state.Tx, evt *event.RegisterParticipantWallets) ([]ledger.Transfer, error) {
	m, err := tx.Master(evt.MasterID)
	if err != nil {
		return nil, err
	}
	return nil, m.RegisterParticipantWallets(evt.Signer(), evt.PoolWallet, evt.DepositWallet)
}

func (c *DeterministicCore) handleConfirmMaster(tx *state.Tx, evt *event.ConfirmMaster) ([]ledger.Transfer, error) {
	role, err := state.ParseConfirmRole(evt.Role)
	if err != nil {
		return nil, err
	}
	m, err := tx.Master(evt.MasterID)
	if err != nil {
		return nil, err
	}
	return nil, m.Confirm(evt.Signer(), role)
}

func (c *DeterministicCore) handleActivateMaster(tx *state.Tx, evt *event.ActivateMaster) ([]ledger.Transfer, error) {
	m, err := tx.Master(evt.MasterID)
	if err != nil {
		return nil, err
	}
	if err := m.Activate(evt.Signer()); err != nil {
		return nil, err
	}
	c.logger.Info().Str("master_id", m.ID.String()).Msg("master policy activated")
	return nil, nil
}

func (c *DeterministicCore) handleCreateFlightPolicy(tx *state.Tx, evt *event.CreateFlightPolicy) ([]ledger.Transfer, error) {
	m, err := tx.Master(evt.MasterID)
	if err != nil {
		return nil, err
	}
	f, premium, err := m.IssueFlight(evt.Signer(), evt.FlightID, evt.Terms, evt.Payer, evt.Timestamp())
	if err != nil {
		return nil, err
	}
	if err := tx.InsertFlight(f); err != nil {
		return nil, err
	}
	return []ledger.Transfer{premium}, nil
}

// loadFlight loads a master and one of its flights.
func loadFlight(tx *state.Tx, masterID, flightID uuid.UUID) (*state.MasterPolicy, *state.FlightPolicy, error) {
	m, err := tx.Master(masterID)
	if err != nil {
		return nil, nil, err
	}
	f, err := tx.Flight(flightID)
	if err != nil {
		return nil, nil, err
	}
	return m, f, nil
}

func (c *DeterministicCore) handleResolveFlightDelay(tx *state.Tx, evt *event.ResolveFlightDelay) ([]ledger.Transfer, error) {
	m, f, err := loadFlight(tx, evt.MasterID, evt.FlightID)
	if err != nil {
		return nil, err
	}
	if err := m.ResolveFlightDelay(evt.Signer(), f, evt.DelayMinutes, evt.Cancelled, evt.Timestamp()); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.FlightsResolved.WithLabelValues(f.Status.String()).Inc()
	}
	return nil, nil
}

func (c *DeterministicCore) handleSettleFlightClaim(tx *state.Tx, evt *event.SettleFlightClaim) ([]ledger.Transfer, error) {
	m, f, err := loadFlight(tx, evt.MasterID, evt.FlightID)
	if err != nil {
		return nil, err
	}
	out, err := settlement.SettleFlightClaim(evt.Signer(), m, f, evt.PoolWallets, evt.Timestamp())
	if err != nil {
		return nil, err
	}
	return out.Transfers, nil
}

func (c *DeterministicCore) handleSettleFlightNoClaim(tx *state.Tx, evt *event.SettleFlightNoClaim) ([]ledger.Transfer, error) {
	m, f, err := loadFlight(tx, evt.MasterID, evt.FlightID)
	if err != nil {
		return nil, err
	}
	out, err := settlement.SettleFlightNoClaim(evt.Signer(), m, f, evt.DepositWallets, evt.Timestamp())
	if err != nil {
		return nil, err
	}
	return out.Transfers, nil
}
