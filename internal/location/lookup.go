package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beaconlabs/beacon/internal/errors"
	"github.com/beaconlabs/beacon/internal/storage/types"
)

// Lookup queries an ip-api style JSON endpoint for network-address
// geolocation. One attempt per call; the resolver treats any failure as a
// silent fall-through to the next tier.
type Lookup struct {
	baseURL string
	client  *http.Client
}

// NewLookup creates a lookup client against baseURL with a bounded timeout.
func NewLookup(baseURL string, timeout time.Duration) *Lookup {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Lookup{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// lookupResponse is the ip-api JSON wire format.
type lookupResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Query       string  `json:"query"`
}

// Geolocate resolves addr to a coarse location. A reachable endpoint that
// reports a failure status still returns a record (with that status) so the
// caller can distinguish "lookup said no" from "lookup unreachable".
func (l *Lookup) Geolocate(ctx context.Context, addr string) (*types.AddressGeolocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build lookup request")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errors.ErrLookupFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup returned HTTP %d: %w", resp.StatusCode, errors.ErrLookupFailed)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode lookup response: %v: %w", err, errors.ErrLookupFailed)
	}

	return &types.AddressGeolocation{
		Address:     body.Query,
		Status:      body.Status,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.Region,
		RegionName:  body.RegionName,
		City:        body.City,
		Postal:      body.Zip,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		Timezone:    body.Timezone,
		ISP:         body.ISP,
	}, nil
}
