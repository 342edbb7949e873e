package server

import (
	"fmt"

	"market-relay/src/models"

	"github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// Intent Dispatch
// -----------------------------------------------------------------------------

// Dispatch decodes one inbound envelope and routes it to the ledger. Replies go
// to the sender only.
func (s *RelayServer) Dispatch(userID string, message []byte) {
	var in models.MInboundEnvelope
	if err := json.Unmarshal(message, &in); err != nil || in.Type == "" {
		s.SendToUser(userID, errorEnvelope("Invalid message format"))
		return
	}

	switch in.Type {
	case models.IntentSubscribe:
		snap := s.market.Snapshot()
		s.SendToUser(userID, models.MEnvelope{Type: models.EventTicker, Data: snap.Ticker})
		s.SendToUser(userID, models.MEnvelope{Type: models.EventOrderBook, Data: snap.OrderBook})
		s.SendToUser(userID, models.MEnvelope{Type: models.EventCandles, Data: snap.Candles})

	case models.IntentPlaceOrder:
		var req models.MOrderRequest
		if err := decodeData(in.Data, &req); err != nil {
			s.SendToUser(userID, failure(models.EventOrderResponse, err))
			return
		}
		placed, err := s.ledger.PlaceOrder(userID, req)
		if err != nil {
			s.SendToUser(userID, failure(models.EventOrderResponse, err))
			return
		}
		var data interface{} = placed.Order
		if placed.Position != nil {
			data = placed.Position
		}
		s.SendToUser(userID, success(models.EventOrderResponse, data))

	case models.IntentCancelOrder:
		var req models.MCancelOrderRequest
		if err := decodeData(in.Data, &req); err != nil {
			s.SendToUser(userID, failure(models.EventCancelOrderResponse, err))
			return
		}
		order, err := s.ledger.CancelOrder(userID, req.OrderID)
		if err != nil {
			s.SendToUser(userID, failure(models.EventCancelOrderResponse, err))
			return
		}
		s.SendToUser(userID, success(models.EventCancelOrderResponse, order))

	case models.IntentClosePosition:
		var req models.MClosePositionRequest
		if err := decodeData(in.Data, &req); err != nil {
			s.SendToUser(userID, failure(models.EventClosePositionResponse, err))
			return
		}
		pos, err := s.ledger.ClosePosition(userID, req.PositionID)
		if err != nil {
			s.SendToUser(userID, failure(models.EventClosePositionResponse, err))
			return
		}
		s.SendToUser(userID, success(models.EventClosePositionResponse, pos))

	case models.IntentGetBalance:
		s.SendToUser(userID, models.MEnvelope{Type: models.EventBalanceUpdate, Data: s.ledger.GetOrCreateUser(userID).Balance})

	case models.IntentGetPositions:
		s.SendToUser(userID, s.positionsEnvelope(userID))

	case models.IntentGetOrders:
		s.SendToUser(userID, s.ordersEnvelope(userID))

	case models.IntentGetTrades:
		s.SendToUser(userID, s.tradesEnvelope(userID))

	default:
		s.SendToUser(userID, errorEnvelope(fmt.Sprintf("Unknown message type: %s", in.Type)))
	}
}

// -----------------------------------------------------------------------------
// Envelope Builders
// -----------------------------------------------------------------------------

func (s *RelayServer) positionsEnvelope(userID string) models.MEnvelope {
	positions, err := s.ledger.GetOpenPositions(userID)
	if err != nil {
		positions = []models.MPosition{}
	}
	return models.MEnvelope{Type: models.EventPositionUpdate, Data: positions}
}

func (s *RelayServer) ordersEnvelope(userID string) models.MEnvelope {
	orders, err := s.ledger.GetPendingOrders(userID)
	if err != nil {
		orders = []models.MOrder{}
	}
	return models.MEnvelope{Type: models.EventOrderUpdate, Data: orders}
}

func (s *RelayServer) tradesEnvelope(userID string) models.MEnvelope {
	trades, err := s.ledger.GetTrades(userID)
	if err != nil {
		trades = []models.MTrade{}
	}
	return models.MEnvelope{Type: models.EventTradeUpdate, Data: trades}
}

// -----------------------------------------------------------------------------

func success(eventType string, data interface{}) models.MEnvelope {
	return models.MEnvelope{Type: eventType, Data: models.MResponse{Success: true, Data: data}}
}

func failure(eventType string, err error) models.MEnvelope {
	return models.MEnvelope{Type: eventType, Data: models.MResponse{Success: false, Error: err.Error()}}
}

func errorEnvelope(message string) models.MEnvelope {
	return models.MEnvelope{Type: models.EventError, Data: models.MErrorMessage{Message: message}}
}

// decodeData rejects a missing payload before decoding.
func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}
