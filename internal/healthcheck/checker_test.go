package healthcheck_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/failover-gateway/internal/healthcheck"
	"github.com/angeloszaimis/failover-gateway/internal/scheduler"
)

func newChecker(cfg healthcheck.Config) *healthcheck.Checker {
	ctrl := scheduler.New[healthcheck.Result](scheduler.Options{MaxConcurrent: 5})
	return healthcheck.NewChecker(cfg, ctrl, nil, slog.New(slog.DiscardHandler))
}

func truncatedBodyServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			return
		}
		defer conn.Close()

		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 100\r\n\r\nsubconverter v0.9")
		buf.Flush()
	}))
}

var _ = Describe("Checker", func() {
	var (
		checker *healthcheck.Checker
		server  *httptest.Server
		paths   chan string
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		paths = make(chan string, 10)
		checker = newChecker(healthcheck.Config{
			PriorityTimeout: 100 * time.Millisecond,
			FullTimeout:     200 * time.Millisecond,
		})
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	serve := func(status int, body string) {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paths <- r.URL.Path
			w.WriteHeader(status)
			w.Write([]byte(body))
		}))
	}

	Describe("PriorityCheck", func() {
		It("should report a healthy backend with its version", func() {
			serve(http.StatusOK, "subconverter v0.9.9-7544246 backend")

			res := checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeTrue())
			Expect(res.Status).To(Equal(http.StatusOK))
			Expect(res.Version).To(Equal("subconverter v0.9.9-7544246 backend"))
			Expect(res.Priority).To(Equal(healthcheck.PriorityHigh))
			Expect(res.ResponseTime).NotTo(BeNil())
			Expect(res.ResponseTimeScore).To(BeNumerically(">", 0))
			Expect(res.Error).To(BeEmpty())
			Expect(res.Timestamp).NotTo(BeZero())
			Expect(paths).To(Receive(Equal(healthcheck.DefaultEndpoint)))
		})

		It("should treat any 200 as healthy regardless of body", func() {
			serve(http.StatusOK, "")

			res := checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeTrue())
			Expect(res.Version).To(Equal(healthcheck.UnknownVersion))
		})

		It("should report non-200 responses as unhealthy with a zero score", func() {
			serve(http.StatusServiceUnavailable, "maintenance")

			res := checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Status).To(Equal(http.StatusServiceUnavailable))
			Expect(res.ResponseTimeScore).To(BeZero())
			Expect(res.ResponseTime).NotTo(BeNil())
			Expect(res.Skipped).To(BeFalse())
		})

		It("should classify timeouts", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}))

			res := checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Status).To(BeZero())
			Expect(res.ResponseTime).To(BeNil())
			Expect(res.ResponseTimeScore).To(BeZero())
			Expect(res.Error).To(Equal(healthcheck.ErrorTimeout))
			Expect(res.Version).To(Equal(healthcheck.UnknownVersion))
		})

		It("should classify refused connections", func() {
			closed := httptest.NewServer(http.NotFoundHandler())
			url := closed.URL
			closed.Close()

			res := checker.PriorityCheck(ctx, url, "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Status).To(BeZero())
			Expect(res.Error).To(Equal(healthcheck.ErrorConnectionRefused))
		})

		It("should reject relative backend URLs", func() {
			res := checker.PriorityCheck(ctx, "not-a-url", "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Error).To(Equal(healthcheck.ErrorInvalidURL))
		})

		It("should classify a cancelled caller", func() {
			serve(http.StatusOK, "subconverter v0.9.9")
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			res := checker.PriorityCheck(cancelled, server.URL, "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Error).To(Equal(healthcheck.ErrorCanceled))
		})

		It("should use the configured endpoint", func() {
			checker = newChecker(healthcheck.Config{Endpoint: "/healthz"})
			serve(http.StatusOK, "ok")

			checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(paths).To(Receive(Equal("/healthz")))
		})
	})

	Describe("FullCheck", func() {
		It("should report a healthy backend with its version", func() {
			serve(http.StatusOK, "subconverter v0.9.9-7544246 backend")

			res := checker.FullCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeTrue())
			Expect(res.Priority).To(Equal(healthcheck.PriorityNormal))
			Expect(res.Version).To(Equal("subconverter v0.9.9-7544246 backend"))
		})

		It("should accept a 200 even when the body lacks the service identity", func() {
			serve(http.StatusOK, "hello world")

			res := checker.FullCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeTrue())
			Expect(res.Version).To(Equal("hello world"))
		})

		It("should report non-200 responses as unhealthy", func() {
			serve(http.StatusInternalServerError, "subconverter v0.9.9")

			res := checker.FullCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Status).To(Equal(http.StatusInternalServerError))
			Expect(res.ResponseTimeScore).To(BeZero())
		})

		It("should allow more time than the priority probe", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(150 * time.Millisecond)
				w.Write([]byte("subconverter v0.9.9"))
			}))

			Expect(checker.PriorityCheck(ctx, server.URL, "req-1").Healthy).To(BeFalse())
			Expect(checker.FullCheck(ctx, server.URL, "req-2").Healthy).To(BeTrue())
		})
	})

	Describe("Unreadable bodies", func() {
		BeforeEach(func() {
			server = truncatedBodyServer()
		})

		It("should stay healthy on the priority probe", func() {
			res := checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeTrue())
			Expect(res.Status).To(Equal(http.StatusOK))
			Expect(res.Version).To(Equal(healthcheck.UnknownVersion))
		})

		It("should be unhealthy on the full probe", func() {
			res := checker.FullCheck(ctx, server.URL, "req-1")

			Expect(res.Healthy).To(BeFalse())
			Expect(res.Status).To(Equal(http.StatusOK))
			Expect(res.ResponseTimeScore).To(BeZero())
			Expect(res.Error).To(Equal(healthcheck.ErrorBodyRead))
		})
	})

	Describe("Scheduling", func() {
		It("should count every probe in the scheduler stats", func() {
			serve(http.StatusOK, "subconverter v0.9.9")

			checker.PriorityCheck(ctx, server.URL, "req-1")
			checker.FullCheck(ctx, server.URL, "req-2")

			stats := checker.Stats()
			Expect(stats.TotalStarted).To(Equal(int64(2)))
			Expect(stats.Successes).To(Equal(int64(2)))
		})

		It("should count unhealthy probes as errors", func() {
			serve(http.StatusBadGateway, "")

			checker.PriorityCheck(ctx, server.URL, "req-1")

			Expect(checker.Stats().Errors).To(Equal(int64(1)))
		})
	})
})
