package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
)

// Tagged is the JSON container of one block: its declared CID next to the
// JSON form of its data.
type Tagged struct {
	CID  cid.Cid
	Data json.RawMessage
}

type taggedWire struct {
	CID  string          `json:"cid"`
	Data json.RawMessage `json:"data"`
}

func (t Tagged) MarshalJSON() ([]byte, error) {
	if !t.CID.Defined() {
		return nil, errors.New("codec: tagged block without cid")
	}
	return json.Marshal(taggedWire{CID: cidutil.Format(t.CID), Data: t.Data})
}

func (t *Tagged) UnmarshalJSON(data []byte) error {
	var w taggedWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("codec: tagged block: %w", err)
	}
	if len(w.Data) == 0 {
		return errors.New("codec: tagged block without data")
	}
	c, err := cidutil.Parse(w.CID)
	if err != nil {
		return fmt.Errorf("codec: tagged block: %w", err)
	}
	t.CID = c
	t.Data = w.Data
	return nil
}
