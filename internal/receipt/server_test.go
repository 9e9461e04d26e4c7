package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/snapwise/receiptpipe/internal/queue"
	"github.com/snapwise/receiptpipe/internal/status"
)

func multipartUpload(filename string, data []byte) (*bytes.Buffer, string) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return &body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		server  *Server
		db      *mockDB
		storage *mockStorage
		jobs    *mockJobs
		auth    BasicAuth
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		jobs = &mockJobs{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, storage, jobs,
			&fixedIDGenerator{id: "receipt-123"},
			&fixedTimeSource{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)},
		)
		server = NewServer(service, status.NewHub(), auth)
	})

	Describe("POST /api/receipts", func() {
		It("should accept an upload and answer 202 with the job id", func() {
			body, contentType := multipartUpload("scan.jpg", []byte("image data"))
			req := httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			var resp struct {
				Receipt Receipt `json:"receipt"`
				JobID   string  `json:"job_id"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Receipt.ID).To(Equal("receipt-123"))
			Expect(resp.Receipt.Status).To(Equal(StatusPending))
			Expect(resp.JobID).To(Equal("receipt-123"))
		})

		It("should reject a request without a file", func() {
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			Expect(writer.Close()).To(Succeed())

			req := httptest.NewRequest("POST", "/api/receipts", &body)
			req.Header.Set("Content-Type", writer.FormDataContentType())
			rec := httptest.NewRecorder()

			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 500 when the job cannot be enqueued", func() {
			jobs.enqueueErr = errors.New("queue closed")

			body, contentType := multipartUpload("scan.jpg", []byte("image data"))
			req := httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		It("should return the receipt", func() {
			db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusCompleted, StoreName: "Kroger"}

			req := httptest.NewRequest("GET", "/api/receipts/r1", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var got Receipt
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.StoreName).To(Equal("Kroger"))
		})

		It("should answer 404 for an unknown receipt", func() {
			req := httptest.NewRequest("GET", "/api/receipts/missing", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/receipts/{id}/items", func() {
		It("should return the items in order", func() {
			db.receipts["r1"] = &Receipt{ID: "r1"}
			db.items["r1"] = []Item{
				{Name: "Milk", Price: 3.50, Quantity: 1, LineNumber: 1},
				{Name: "Bread", Price: 2.00, Quantity: 1, LineNumber: 2},
			}

			req := httptest.NewRequest("GET", "/api/receipts/r1/items", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var items []Item
			Expect(json.Unmarshal(rec.Body.Bytes(), &items)).To(Succeed())
			Expect(items).To(HaveLen(2))
			Expect(items[0].Name).To(Equal("Milk"))
			Expect(items[1].Name).To(Equal("Bread"))
		})
	})

	Describe("GET /api/jobs/{id}", func() {
		It("should return the job status", func() {
			jobs.status = &queue.JobStatus{
				ID:           "r1",
				State:        queue.StateDelayed,
				AttemptsMade: 2,
				FailedReason: "timeout",
			}

			req := httptest.NewRequest("GET", "/api/jobs/r1", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var got queue.JobStatus
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.State).To(Equal(queue.StateDelayed))
			Expect(got.AttemptsMade).To(Equal(2))
		})

		It("should answer 404 for an unknown job", func() {
			jobs.statusErr = queue.ErrJobNotFound

			req := httptest.NewRequest("GET", "/api/jobs/missing", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/receipts/{id}", func() {
		It("should delete the receipt", func() {
			db.receipts["r1"] = &Receipt{ID: "r1", ImageKey: "r1_scan.jpg"}

			req := httptest.NewRequest("DELETE", "/api/receipts/r1", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(db.deletedIDs).To(ContainElement("r1"))
		})
	})

	Describe("GET /api/receipts/{id}/events", func() {
		It("should answer 404 for an unknown receipt", func() {
			req := httptest.NewRequest("GET", "/api/receipts/missing/events", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		When("the job finishes while the connection is being set up", func() {
			BeforeEach(func() {
				db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusProcessing}
			})

			It("should report the fresh terminal status and close", func() {
				// The route lookup sees PROCESSING; the receipt finishes
				// before the post-subscribe snapshot re-read.
				calls := 0
				db.onGetReceipt = func(id string) {
					calls++
					if calls == 2 {
						db.receipts["r1"].Status = StatusCompleted
					}
				}

				ts := httptest.NewServer(server)
				defer ts.Close()

				wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/receipts/r1/events"
				conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
				Expect(err).NotTo(HaveOccurred())
				defer conn.Close()

				var connected status.Event
				Expect(conn.ReadJSON(&connected)).To(Succeed())
				Expect(connected.Type).To(Equal(status.EventConnected))
				Expect(connected.Status).To(Equal(string(StatusCompleted)))

				conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, _, err = conn.ReadMessage()
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			req := httptest.NewRequest("GET", "/api/receipts", nil)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should accept requests with valid credentials", func() {
			req := httptest.NewRequest("GET", "/api/receipts", nil)
			req.SetBasicAuth("admin", "secret")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})
})
