package clinicbackend

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/medassist/appointment-negotiation/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// TransportError covers timeouts, connection and certificate failures,
// HTTP-level errors and malformed envelopes. Never retried by the
// adapter or the coordinator; after a timeout the remote state is
// ambiguous and a blind retry could double-book.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("clinic backend %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport/protocol fault as
// opposed to a domain-level rejection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client speaks the clinic backend's envelope protocol over mutually
// authenticated HTTPS. Every call is synchronous, carries a fresh
// correlation id and runs through a circuit breaker so a dead backend
// fails fast instead of tying up voice sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Options configures the client. Certificate paths are optional only in
// tests; production deployments always present a client certificate.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	ClientCertFile string
	ClientKeyFile  string
	CACertFile     string
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("clinic backend base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tlsCfg, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clinic-backend",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("clinic backend breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			c.metrics.SetBreakerState(name, to.String())
		},
	})

	return c, nil
}

func buildTLSConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.ClientCertFile != "" || opts.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if opts.CACertFile != "" {
		pem, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("CA bundle contains no certificates")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// BreakerState exposes the breaker for readiness checks.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// call is the single request path every operation goes through:
// build envelope, POST, decode, enforce the result-code contract.
// The breaker only counts transport faults as failures; a domain
// rejection means the backend is alive and answering.
func call[T any](ctx context.Context, c *Client, msgType string, body any) (*responseEnvelope[T], error) {
	start := c.now()

	raw, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, msgType, body)
	})
	if err != nil {
		c.observe(msgType, "transport_fault", start)
		return nil, &TransportError{Op: msgType, Err: err}
	}

	env, err := decodeEnvelope[T](raw.([]byte))
	if err != nil {
		if errors.Is(err, errDomainRejected) {
			c.observe(msgType, "domain_rejected", start)
			return env, err
		}
		c.observe(msgType, "transport_fault", start)
		return nil, &TransportError{Op: msgType, Err: err}
	}

	c.observe(msgType, "success", start)
	return env, nil
}

func (c *Client) post(ctx context.Context, msgType string, body any) ([]byte, error) {
	payload, err := xml.Marshal(newEnvelope(msgType, body, c.now()))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}

	return raw, nil
}

func (c *Client) observe(msgType, outcome string, start time.Time) {
	c.metrics.ObserveRemoteCall(msgType, outcome, time.Since(start))
}

// GetFreeIntervals fetches the availability grid for the query window.
// The backend caps a single query at 7 days; callers wanting a longer
// horizon issue several windows.
func (c *Client) GetFreeIntervals(ctx context.Context, q IntervalQuery) ([]FreeInterval, error) {
	env, err := call[freeIntervalsResponse](ctx, c, msgFreeIntervals, freeIntervalsRequest{
		BranchCode:     q.BranchCode,
		DepartmentCode: q.DepartmentCode,
		DoctorCode:     q.DoctorCode,
		DateFrom:       q.DateFrom,
		DateTo:         q.DateTo,
	})
	if err != nil {
		if errors.Is(err, errDomainRejected) {
			return nil, fmt.Errorf("%w: %s", ErrRejected, env.Result.Comment)
		}
		return nil, err
	}

	intervals := make([]FreeInterval, 0, len(env.Body.Intervals))
	for _, iv := range env.Body.Intervals {
		intervals = append(intervals, FreeInterval{
			DoctorCode:     iv.DoctorCode,
			DoctorName:     iv.DoctorName,
			DepartmentCode: iv.DepartmentCode,
			BranchCode:     iv.BranchCode,
			Date:           iv.Date,
			Begin:          iv.BeginTime,
			End:            iv.EndTime,
			FreeCount:      iv.FreeCount,
			ScheduleRef:    iv.ScheduleRef,
		})
	}
	return intervals, nil
}

// Reserve claims the slot and returns the backend's booking reference.
// A domain rejection here means the slot was just taken; the caller
// re-matches against fresh availability.
func (c *Client) Reserve(ctx context.Context, r ReserveRequest) (string, error) {
	env, err := call[reserveResponse](ctx, c, msgReserve, reserveRequestXML{
		DoctorCode:  r.DoctorCode,
		BranchCode:  r.BranchCode,
		Date:        r.Date,
		BeginTime:   r.Begin,
		ScheduleRef: r.ScheduleRef,
		PatientCode: r.PatientCode,
		PatientName: r.PatientName,
		ExistingRef: r.ExistingRef,
	})
	if err != nil {
		if errors.Is(err, errDomainRejected) {
			return "", fmt.Errorf("%w: %s", ErrSlotTaken, env.Result.Comment)
		}
		return "", err
	}
	if env.Body.BookingRef == "" {
		return "", &TransportError{Op: msgReserve, Err: errors.New("response missing booking ref")}
	}
	return env.Body.BookingRef, nil
}

// Cancel releases a booking at the given branch.
func (c *Client) Cancel(ctx context.Context, bookingRef string, branchCode int) error {
	env, err := call[cancelResponse](ctx, c, msgCancel, cancelRequestXML{
		BookingRef: bookingRef,
		BranchCode: branchCode,
	})
	if err != nil {
		if errors.Is(err, errDomainRejected) {
			return fmt.Errorf("%w: %s", ErrRejected, env.Result.Comment)
		}
		return err
	}
	return nil
}

// GetCurrentBooking looks up the patient's current appointment on the
// backend. ErrBookingNotFound when the patient has none.
func (c *Client) GetCurrentBooking(ctx context.Context, patientCode string) (*Booking, error) {
	env, err := call[currentBookingResponse](ctx, c, msgCurrentBooking, currentBookingRequest{
		PatientCode: patientCode,
	})
	if err != nil {
		if errors.Is(err, errDomainRejected) {
			return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, env.Result.Comment)
		}
		return nil, err
	}

	b := env.Body.Booking
	if b.BookingRef == "" {
		return nil, ErrBookingNotFound
	}
	return &Booking{
		RemoteRef:      b.BookingRef,
		PatientCode:    b.PatientCode,
		DoctorCode:     b.DoctorCode,
		DoctorName:     b.DoctorName,
		DepartmentCode: b.DepartmentCode,
		BranchCode:     b.BranchCode,
		Date:           b.Date,
		Begin:          b.BeginTime,
		End:            b.EndTime,
	}, nil
}
