package heirkeep

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/heirkeep/heirkeep/schema"
	"github.com/tidwall/gjson"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/body"
)

// RouteSource produces the opaque execution payload for a swap/bridge quote.
// The payload is treated as a black box; the only check applied to it is the
// ledger's beneficiary scan.
type RouteSource interface {
	FetchRoute(req schema.RouteRequest) ([]byte, error)
}

// RouteClient talks to the external route-instruction provider.
type RouteClient struct {
	cli *gentleman.Client
}

func NewRouteClient(url string) *RouteClient {
	cli := gentleman.New()
	cli.URL(url)
	return &RouteClient{cli: cli}
}

func (r *RouteClient) FetchRoute(req schema.RouteRequest) ([]byte, error) {
	res, err := r.cli.Request().Method("POST").Path("/route").Use(body.JSON(req)).Send()
	if err != nil {
		return nil, schema.ErrRouteUnavailable
	}
	if !res.Ok {
		return nil, fmt.Errorf("%w: status %d", schema.ErrRouteUnavailable, res.StatusCode)
	}
	raw := gjson.GetBytes(res.Bytes(), "transactionRequest.data")
	if !raw.Exists() {
		return nil, schema.ErrRouteUnavailable
	}
	payload, err := hexutil.Decode(raw.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrRouteUnavailable, err)
	}
	return payload, nil
}

// StubRouteSource fabricates a deterministic payload that names the recipient,
// for dev and test runs only. Production construction must refuse to fall
// back to it when the real source is down.
type StubRouteSource struct{}

func NewStubRouteSource() *StubRouteSource {
	log.Warn("route source running in stub mode, payloads are fabricated locally")
	return &StubRouteSource{}
}

var stubSelector = []byte{0x73, 0x77, 0x61, 0x70} // placeholder selector

func (r *StubRouteSource) FetchRoute(req schema.RouteRequest) ([]byte, error) {
	payload := append([]byte{}, stubSelector...)
	payload = append(payload, common.HexToAddress(req.FromToken).Bytes()...)
	payload = append(payload, common.HexToAddress(req.ToAddress).Bytes()...)
	meta, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, meta...)
	return payload, nil
}
