package gwire

import "encoding/json"

// Message payload shapes. The proto3 flag bit reserves
// the wire format for a future dedicated binary codec; no protobuf
// generator is available in this build, so the concrete implementation of
// "a proto3 payload" here is JSON; every frame still carries FlagProto3,
// and swapping the body codec later is confined to Marshal/Unmarshal below.

type SubscribeRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type SubscribeAccountRequest struct {
	Exchange string `json:"exchange"`
}

type NewOrderRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	TIF      string `json:"tif"`
	OrderID  string `json:"order_id"`
}

type CancelOrderRequest struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	OrderID    string `json:"order_id"`
	ExtOrderID string `json:"ext_order_id"`
}

type OmLogonRequest struct {
	StrategyID string `json:"strategy_id"`
	RunMode    string `json:"run_mode"`
}

type OmLogonReply struct {
	Error string `json:"error,omitempty"`
}

type Trade struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	Side     string `json:"side"`
}

type TickTop struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	BidPrice string `json:"bid_price"`
	AskPrice string `json:"ask_price"`
}

// OrderExecReason classifies why an order_exec message was sent.
type OrderExecReason string

const (
	ReasonNewAck      OrderExecReason = "NEW_ACK"
	ReasonCancelAck   OrderExecReason = "CANCEL_ACK"
	ReasonUnsolicited OrderExecReason = "UNSOLICITED"
)

type OrderExec struct {
	OrderID     string          `json:"order_id"`
	ExtOrderID  string          `json:"ext_order_id"`
	State       string          `json:"state"`
	CloseReason string          `json:"close_reason"`
	Reason      OrderExecReason `json:"reason"`
}

type OrderFill struct {
	OrderID      string `json:"order_id"`
	Size         string `json:"size"`
	Price        string `json:"price"`
	FullyFilled  bool   `json:"fully_filled"`
}

type AccountUpdate struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Position string `json:"position"`
}

type ErrorReply struct {
	OrigRequestType string `json:"orig_request_type"`
	Code            string `json:"code"`
	Text            string `json:"text"`
}

// Marshal encodes v as a frame payload.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a frame payload of type t into v.
func Unmarshal(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
