package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		client  *Ollama
		timeout time.Duration
		req     ExtractionRequest
		resp    ExtractionResponse
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		timeout = 5 * time.Second
		req = NewExtractionRequest(RawImage{Data: []byte("png-bytes"), MIMEType: "image/png"}, "")
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		var newErr error
		client, newErr = NewOllama(server.URL(), "test-model", timeout)
		Expect(newErr).NotTo(HaveOccurred())
		resp, err = client.Extract(context.Background(), req)
	})

	When("the endpoint answers", func() {
		var received ollamaChatRequest

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &received)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"store": "Foo Mart", "total": 1200}`},
					Done:    true,
				}),
			))
		})

		It("returns the message text untouched", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(Equal(`{"store": "Foo Mart", "total": 1200}`))
		})

		It("sends the model, prompt and image", func() {
			Expect(received.Model).To(Equal("test-model"))
			Expect(received.Format).To(Equal("json"))
			Expect(received.Stream).To(BeFalse())
			Expect(received.Messages).To(HaveLen(2))
			Expect(received.Messages[1].Content).To(Equal(ReceiptPrompt))
			Expect(received.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString([]byte("png-bytes"))))
		})

		It("makes exactly one request", func() {
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the request names a model", func() {
		var received ollamaChatRequest

		BeforeEach(func() {
			req.Model = "override"
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}),
			))
		})

		It("uses it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(received.Model).To(Equal("override"))
		})
	})

	When("the endpoint returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns an EndpointError with the body", func() {
			var endpointErr *EndpointError
			Expect(errors.As(err, &endpointErr)).To(BeTrue())
			Expect(endpointErr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(endpointErr.Body).To(Equal("model not loaded"))
			Expect(endpointErr.Temporary()).To(BeTrue())
		})
	})

	When("the endpoint returns a non-JSON body", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>proxy</html>"))
		})

		It("returns an EndpointError", func() {
			var endpointErr *EndpointError
			Expect(errors.As(err, &endpointErr)).To(BeTrue())
			Expect(endpointErr.Body).To(ContainSubstring("proxy"))
		})
	})

	When("the endpoint is slower than the timeout", func() {
		BeforeEach(func() {
			timeout = 50 * time.Millisecond
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(300 * time.Millisecond)
				},
				ghttp.RespondWith(http.StatusOK, "{}"),
			))
		})

		It("returns ErrEndpointUnreachable", func() {
			Expect(errors.Is(err, ErrEndpointUnreachable)).To(BeTrue())
		})
	})
})

var _ = Describe("Ollama with no server", func() {
	It("returns ErrEndpointUnreachable", func() {
		server := ghttp.NewServer()
		url := server.URL()
		server.Close()

		client, err := NewOllama(url, "test-model", time.Second)
		Expect(err).NotTo(HaveOccurred())

		_, err = client.Extract(context.Background(), NewExtractionRequest(RawImage{Data: []byte("x")}, ""))
		Expect(errors.Is(err, ErrEndpointUnreachable)).To(BeTrue())
	})
})
