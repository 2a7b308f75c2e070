package matrix

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/netutil"
	"github.com/karavan-route/karavan/internal/vrp"
)

// OSRMConfig configures the OSRM road-network client.
type OSRMConfig struct {
	BaseURL string
	Profile string // default "driving"
	// Timeout caps each HTTP attempt. Default 30s.
	Timeout time.Duration
	Retry   netutil.RetryPolicy
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit. Default 5.
	BreakerThreshold uint32
	// BreakerCooldown is how long the circuit stays open. Default 30s.
	BreakerCooldown time.Duration
}

func (c *OSRMConfig) withDefaults() OSRMConfig {
	out := *c
	if out.Profile == "" {
		out.Profile = "driving"
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.Retry.Attempts <= 0 {
		out.Retry = netutil.DefaultRetryPolicy()
	}
	if out.BreakerThreshold == 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}

// OSRM calls an OSRM HTTP instance for table and route queries. A circuit
// breaker fronts the client so a dead instance fails fast instead of eating
// a full retry cycle per call.
type OSRM struct {
	cfg     OSRMConfig
	client  *netutil.Client
	breaker *gobreaker.CircuitBreaker
}

// NewOSRM creates the client. The base URL is required.
func NewOSRM(cfg OSRMConfig) (*OSRM, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("matrix: osrm base url is empty")
	}
	cfg = cfg.withDefaults()
	o := &OSRM{
		cfg:    cfg,
		client: netutil.NewClient(cfg.Timeout, cfg.Retry),
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "osrm",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
	})
	return o, nil
}

var _ Backend = (*OSRM)(nil)

// Name identifies the backend in logs.
func (o *OSRM) Name() string { return "osrm" }

// osrmTableResponse mirrors the OSRM table service payload. Cells are
// pointers because OSRM emits null for unroutable pairs.
type osrmTableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Durations [][]*float64 `json:"durations"`
	Distances [][]*float64 `json:"distances"`
}

// Table fetches one durations+distances block.
func (o *OSRM) Table(ctx context.Context, req TableRequest) (*Matrix, error) {
	if len(req.Coords) == 0 {
		return nil, fmt.Errorf("matrix: empty coordinate list: %w", vrp.ErrInvalidInput)
	}
	profile := req.Profile
	if profile == "" {
		profile = o.cfg.Profile
	}

	var sb strings.Builder
	sb.WriteString(o.cfg.BaseURL)
	sb.WriteString("/table/v1/")
	sb.WriteString(profile)
	sb.WriteString("/")
	writeCoordPath(&sb, req.Coords)
	sb.WriteString("?annotations=duration,distance")
	if req.Sources != nil {
		sb.WriteString("&sources=")
		writeIndexList(&sb, req.Sources)
	}
	if req.Dests != nil {
		sb.WriteString("&destinations=")
		writeIndexList(&sb, req.Dests)
	}

	var resp osrmTableResponse
	if err := o.call(ctx, sb.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != "Ok" {
		return nil, fmt.Errorf("matrix: osrm table code %q: %s", resp.Code, resp.Message)
	}

	rows, cols := req.dims()
	if len(resp.Durations) != rows {
		return nil, fmt.Errorf("matrix: osrm returned %d rows, want %d", len(resp.Durations), rows)
	}
	m := NewMatrix(rows, cols, Unreachable)
	if err := fillGrid(m.Durations, resp.Durations, cols); err != nil {
		return nil, err
	}
	if err := fillGrid(m.Distances, resp.Distances, cols); err != nil {
		return nil, err
	}
	return m, nil
}

// fillGrid copies an OSRM grid, mapping null cells to the sentinel. A fully
// absent grid (OSRM built without the annotation) leaves the sentinel fill.
func fillGrid(dst [][]float64, src [][]*float64, cols int) error {
	if src == nil {
		return nil
	}
	for i, row := range src {
		if len(row) != cols {
			return fmt.Errorf("matrix: osrm row %d has %d cells, want %d", i, len(row), cols)
		}
		for j, v := range row {
			if v != nil {
				dst[i][j] = *v
			}
		}
	}
	return nil
}

type osrmRouteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route fetches the road geometry through coords in order.
func (o *OSRM) Route(ctx context.Context, coords []geo.Coordinate, overview Overview, profile string) (*RouteGeometry, error) {
	if len(coords) < 2 {
		return nil, fmt.Errorf("matrix: route needs at least 2 coordinates: %w", vrp.ErrInvalidInput)
	}
	if profile == "" {
		profile = o.cfg.Profile
	}
	if overview == "" {
		overview = OverviewFull
	}

	var sb strings.Builder
	sb.WriteString(o.cfg.BaseURL)
	sb.WriteString("/route/v1/")
	sb.WriteString(profile)
	sb.WriteString("/")
	writeCoordPath(&sb, coords)
	sb.WriteString("?overview=")
	sb.WriteString(string(overview))
	sb.WriteString("&geometries=geojson")

	var resp osrmRouteResponse
	if err := o.call(ctx, sb.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("matrix: osrm route code %q: %s", resp.Code, resp.Message)
	}

	r := resp.Routes[0]
	out := &RouteGeometry{
		DistanceM: r.Distance,
		DurationS: r.Duration,
		Points:    make([]geo.Coordinate, 0, len(r.Geometry.Coordinates)),
	}
	for _, pt := range r.Geometry.Coordinates {
		if len(pt) < 2 {
			continue
		}
		// GeoJSON order is lon,lat.
		out.Points = append(out.Points, geo.Coordinate{Lat: pt[1], Lon: pt[0]})
	}
	return out, nil
}

// Healthy probes the instance with a trivial 2x2 table.
func (o *OSRM) Healthy(ctx context.Context) bool {
	probe := []geo.Coordinate{
		{Lat: 41.311081, Lon: 69.240562},
		{Lat: 41.326508, Lon: 69.228436},
	}
	_, err := o.Table(ctx, TableRequest{Coords: probe})
	return err == nil
}

// call runs one request through the breaker and maps failure classes to the
// shared error taxonomy.
func (o *OSRM) call(ctx context.Context, url string, out any) error {
	_, err := o.breaker.Execute(func() (interface{}, error) {
		return nil, o.client.GetJSON(ctx, url, out)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("matrix: osrm circuit open: %w", vrp.ErrBackendUnavailable)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("matrix: osrm: %w", err)
	}
	if netutil.Retryable(err) {
		// Retries exhausted on a transient class: the instance is down.
		return fmt.Errorf("matrix: osrm unavailable: %v: %w", err, vrp.ErrBackendUnavailable)
	}
	return fmt.Errorf("matrix: osrm: %w", err)
}

// writeCoordPath renders "lon,lat;lon,lat" as OSRM expects.
func writeCoordPath(sb *strings.Builder, coords []geo.Coordinate) {
	for i, c := range coords {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.FormatFloat(c.Lon, 'f', 6, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(c.Lat, 'f', 6, 64))
	}
}

func writeIndexList(sb *strings.Builder, idx []int) {
	for i, v := range idx {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.Itoa(v))
	}
}
