package status

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ServeWS", func() {
	var (
		hub      *Hub
		snapshot Snapshot
		ts       *httptest.Server
	)

	BeforeEach(func() {
		hub = NewHub()
	})

	JustBeforeEach(func() {
		ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ServeWS(hub, w, r, "r1", snapshot)
		}))
	})

	AfterEach(func() {
		ts.Close()
	})

	dial := func() *websocket.Conn {
		GinkgoHelper()
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		return conn
	}

	When("the job is still running", func() {
		BeforeEach(func() {
			snapshot = func() (Event, bool) {
				return Event{Type: EventConnected, Status: "PROCESSING"}, false
			}
		})

		It("should send the snapshot first, then stream until the terminal event", func() {
			conn := dial()
			defer conn.Close()

			var connected Event
			Expect(conn.ReadJSON(&connected)).To(Succeed())
			Expect(connected.Type).To(Equal(EventConnected))
			Expect(connected.Status).To(Equal("PROCESSING"))

			Eventually(func() int { return hub.SubscriberCount("r1") }).Should(Equal(1))
			hub.Publish("r1", Event{Type: EventStatus, Status: "PROCESSING"})
			hub.Publish("r1", Event{Type: EventComplete, Status: "COMPLETED"})

			var update Event
			Expect(conn.ReadJSON(&update)).To(Succeed())
			Expect(update.Type).To(Equal(EventStatus))

			var terminal Event
			Expect(conn.ReadJSON(&terminal)).To(Succeed())
			Expect(terminal.Type).To(Equal(EventComplete))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			Expect(err).To(HaveOccurred())
		})
	})

	When("the job already finished", func() {
		BeforeEach(func() {
			snapshot = func() (Event, bool) {
				return Event{Type: EventConnected, Status: "COMPLETED"}, true
			}
		})

		It("should close right after the snapshot", func() {
			conn := dial()
			defer conn.Close()

			var connected Event
			Expect(conn.ReadJSON(&connected)).To(Succeed())
			Expect(connected.Status).To(Equal("COMPLETED"))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			Expect(err).To(HaveOccurred())
		})
	})

	When("the job finishes while the connection is being set up", func() {
		var snapshotSubs chan int

		BeforeEach(func() {
			snapshotSubs = make(chan int, 1)
			snapshot = func() (Event, bool) {
				// Record how many subscribers exist at snapshot time. The
				// subscription must already be registered, otherwise a
				// transition in this window would be lost.
				snapshotSubs <- hub.SubscriberCount("r1")
				return Event{Type: EventConnected, Status: "PROCESSING"}, false
			}
		})

		It("should subscribe before taking the snapshot", func() {
			conn := dial()
			defer conn.Close()

			var connected Event
			Expect(conn.ReadJSON(&connected)).To(Succeed())
			Eventually(snapshotSubs).Should(Receive(Equal(1)))

			// Events published from snapshot time onwards are delivered.
			hub.Publish("r1", Event{Type: EventError, Status: "FAILED", Message: "no good"})
			var terminal Event
			Expect(conn.ReadJSON(&terminal)).To(Succeed())
			Expect(terminal.Type).To(Equal(EventError))
		})
	})
})
