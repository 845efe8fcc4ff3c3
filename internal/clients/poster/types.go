package poster

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"pos-sync-service/internal/clients"
)

// flexString accepts a JSON string, number, bool or null. Poster is not
// consistent about quoting identifiers and flags.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	switch string(data) {
	case "true":
		*f = "1"
	case "false":
		*f = "0"
	default:
		*f = flexString(data)
	}
	return nil
}

// envelope is the response wrapper of every Poster call
type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    json.RawMessage `json:"error"`
	Message  string          `json:"message"`
}

// apiError decodes the error field, which may be a code, a string or an object
func (e envelope) apiError() *clients.APIError {
	raw := bytes.TrimSpace(e.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("0")) {
		return nil
	}

	var obj struct {
		Code    flexString `json:"code"`
		Message string     `json:"message"`
	}
	if raw[0] == '{' && json.Unmarshal(raw, &obj) == nil {
		code, _ := strconv.Atoi(string(obj.Code))
		return &clients.APIError{Code: code, Message: obj.Message}
	}

	var value flexString
	if err := json.Unmarshal(raw, &value); err != nil {
		return &clients.APIError{Message: string(raw)}
	}
	if code, err := strconv.Atoi(string(value)); err == nil {
		return &clients.APIError{Code: code, Message: e.Message}
	}
	msg := strings.TrimSpace(string(value))
	if msg == "" {
		return nil
	}
	return &clients.APIError{Message: msg}
}

type posterStorage struct {
	StorageID      flexString `json:"storage_id"`
	StorageName    flexString `json:"storage_name"`
	StorageAddress flexString `json:"storage_adress"`
	Delete         flexString `json:"delete"`
}

type posterCategory struct {
	CategoryID     flexString `json:"category_id"`
	CategoryName   flexString `json:"category_name"`
	ParentCategory flexString `json:"parent_category"`
	SortOrder      flexString `json:"sort_order"`
	CategoryHidden flexString `json:"category_hidden"`
}

type posterProduct struct {
	ProductID      flexString      `json:"product_id"`
	ProductName    flexString      `json:"product_name"`
	MenuCategoryID flexString      `json:"menu_category_id"`
	Price          json.RawMessage `json:"price"`
	Hidden         flexString      `json:"hidden"`
	Photo          flexString      `json:"photo"`
	PhotoOrigin    flexString      `json:"photo_origin"`
	IngredientID   flexString      `json:"ingredient_id"`
	IngredientUnit flexString      `json:"ingredient_unit"`
	WeightFlag     flexString      `json:"weight_flag"`
	Type           flexString      `json:"type"`
}

type posterLeftover struct {
	IngredientID          flexString `json:"ingredient_id"`
	IngredientName        flexString `json:"ingredient_name"`
	StorageIngredientLeft flexString `json:"storage_ingredient_left"`
	IngredientUnit        flexString `json:"ingredient_unit"`
}

type posterAddress struct {
	Address1 string `json:"address1"`
}

type posterOrderProduct struct {
	ProductID json.Number `json:"product_id"`
	Count     json.Number `json:"count"`
}

type posterIncomingOrderRequest struct {
	SpotID        json.Number          `json:"spot_id"`
	FirstName     string               `json:"first_name,omitempty"`
	Phone         string               `json:"phone"`
	Comment       string               `json:"comment,omitempty"`
	ServiceMode   int                  `json:"service_mode"`
	ClientAddress *posterAddress       `json:"client_address,omitempty"`
	Products      []posterOrderProduct `json:"products"`
}

type posterIncomingOrderResponse struct {
	IncomingOrderID flexString `json:"incoming_order_id"`
	Status          flexString `json:"status"`
}
