package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-ledger/internal/journal"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
)

// mockProcessor is a scripted Processor
type mockProcessor struct {
	outcome    *Outcome
	processErr error
	entries    map[string]*journal.Entry
	lookupErr  error
	rejections []*journal.Entry
	listErr    error
	submitted  []Submission
}

func (m *mockProcessor) Process(ctx context.Context, sub Submission) (*Outcome, error) {
	m.submitted = append(m.submitted, sub)
	if m.processErr != nil {
		return nil, m.processErr
	}
	return m.outcome, nil
}

func (m *mockProcessor) Entry(id string) (*journal.Entry, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	entry, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("getting journal entry: %w", journal.ErrNotFound)
	}
	return entry, nil
}

func (m *mockProcessor) Rejections() ([]*journal.Entry, error) {
	return m.rejections, m.listErr
}

func multipartBody(field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(w.Close()).To(Succeed())
	return body, w.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		processor *mockProcessor
		auth      BasicAuth
		server    *Server
		recorder  *httptest.ResponseRecorder
		req       *http.Request
	)

	BeforeEach(func() {
		processor = &mockProcessor{
			outcome: &Outcome{ID: "id-1", Status: journal.Accepted, Message: "Recorded receipt"},
			entries: map[string]*journal.Entry{},
		}
		auth = BasicAuth{}
		recorder = httptest.NewRecorder()
	})

	JustBeforeEach(func() {
		server = NewServer(processor, auth)
		server.ServeHTTP(recorder, req)
	})

	decode := func(v any) {
		Expect(json.Unmarshal(recorder.Body.Bytes(), v)).To(Succeed())
	}

	upload := func(filename, contentType string) {
		body, formType := multipartBody("file", filename, contentType, []byte("image-bytes"))
		req = httptest.NewRequest(http.MethodPost, "/api/receipts", body)
		req.Header.Set("Content-Type", formType)
	}

	Describe("GET /healthz", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
		})

		It("reports ok", func() {
			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Body.String()).To(ContainSubstring(`"ok"`))
		})
	})

	Describe("GET /metrics", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
		})

		It("serves prometheus metrics", func() {
			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Body.String()).To(ContainSubstring("receipt_ledger_extraction_retries_total"))
		})
	})

	Describe("POST /api/receipts", func() {
		When("the receipt is accepted", func() {
			BeforeEach(func() {
				upload("receipt.jpg", "image/jpeg")
			})

			It("returns Created with the outcome", func() {
				Expect(recorder.Code).To(Equal(http.StatusCreated))
				var out Outcome
				decode(&out)
				Expect(out.ID).To(Equal("id-1"))
				Expect(out.Message).To(Equal("Recorded receipt"))
			})

			It("passes the file through", func() {
				Expect(processor.submitted).To(HaveLen(1))
				Expect(processor.submitted[0].Filename).To(Equal("receipt.jpg"))
				Expect(processor.submitted[0].ContentType).To(Equal("image/jpeg"))
				Expect(processor.submitted[0].Data).To(Equal([]byte("image-bytes")))
			})
		})

		When("the part has no content type", func() {
			BeforeEach(func() {
				upload("IMG_0001.HEIC", "")
			})

			It("guesses from the extension", func() {
				Expect(processor.submitted[0].ContentType).To(Equal("image/heic"))
			})
		})

		When("no file is sent", func() {
			BeforeEach(func() {
				body, formType := multipartBody("other", "receipt.jpg", "image/jpeg", []byte("x"))
				req = httptest.NewRequest(http.MethodPost, "/api/receipts", body)
				req.Header.Set("Content-Type", formType)
			})

			It("returns Bad Request", func() {
				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
				Expect(processor.submitted).To(BeEmpty())
			})
		})

		When("the body is not multipart", func() {
			BeforeEach(func() {
				req = httptest.NewRequest(http.MethodPost, "/api/receipts", bytes.NewBufferString("{}"))
				req.Header.Set("Content-Type", "application/json")
			})

			It("returns Bad Request", func() {
				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			})
		})

		When("the service is saturated", func() {
			BeforeEach(func() {
				processor.processErr = context.Canceled
				upload("receipt.jpg", "image/jpeg")
			})

			It("returns Service Unavailable", func() {
				Expect(recorder.Code).To(Equal(http.StatusServiceUnavailable))
			})
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		When("the entry exists", func() {
			BeforeEach(func() {
				processor.entries["id-1"] = &journal.Entry{ID: "id-1", Status: journal.Accepted}
				req = httptest.NewRequest(http.MethodGet, "/api/receipts/id-1", nil)
			})

			It("returns it", func() {
				Expect(recorder.Code).To(Equal(http.StatusOK))
				var entry journal.Entry
				decode(&entry)
				Expect(entry.ID).To(Equal("id-1"))
			})
		})

		When("the entry does not exist", func() {
			BeforeEach(func() {
				req = httptest.NewRequest(http.MethodGet, "/api/receipts/missing", nil)
			})

			It("returns Not Found", func() {
				Expect(recorder.Code).To(Equal(http.StatusNotFound))
			})
		})

		When("the lookup fails", func() {
			BeforeEach(func() {
				processor.lookupErr = errors.New("bolt closed")
				req = httptest.NewRequest(http.MethodGet, "/api/receipts/id-1", nil)
			})

			It("returns Internal Server Error", func() {
				Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("GET /api/rejections", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodGet, "/api/rejections", nil)
		})

		When("there are rejections", func() {
			BeforeEach(func() {
				processor.rejections = []*journal.Entry{{ID: "r-1", Status: journal.Rejected, RawResponse: "??"}}
			})

			It("lists them with the raw response", func() {
				Expect(recorder.Code).To(Equal(http.StatusOK))
				var entries []journal.Entry
				decode(&entries)
				Expect(entries).To(HaveLen(1))
				Expect(entries[0].RawResponse).To(Equal("??"))
			})
		})

		When("the journal is disabled", func() {
			BeforeEach(func() {
				processor.listErr = ErrNoJournal
			})

			It("returns Not Found", func() {
				Expect(recorder.Code).To(Equal(http.StatusNotFound))
			})
		})
	})

	When("basic auth is configured", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
			req = httptest.NewRequest(http.MethodGet, "/api/rejections", nil)
		})

		It("rejects missing credentials", func() {
			Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			authed := httptest.NewRequest(http.MethodGet, "/api/rejections", nil)
			authed.SetBasicAuth("user", "secret")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, authed)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("leaves the health check open", func() {
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})
})

var _ = Describe("Server upload rejections", func() {
	DescribeTable("map errors to statuses",
		func(err error, status int) {
			processor := &mockProcessor{
				outcome: &Outcome{ID: "id-1", Status: journal.Rejected, Err: err, Error: err.Error()},
			}
			body, formType := multipartBody("file", "receipt.jpg", "image/jpeg", []byte("image-bytes"))
			req := httptest.NewRequest(http.MethodPost, "/api/receipts", body)
			req.Header.Set("Content-Type", formType)
			recorder := httptest.NewRecorder()

			NewServer(processor, BasicAuth{}).ServeHTTP(recorder, req)
			Expect(recorder.Code).To(Equal(status))
			Expect(recorder.Body.String()).To(ContainSubstring(`"status":"rejected"`))
		},
		Entry("unsupported format", fmt.Errorf("preparing image: %w", scanning.ErrUnsupportedFormat), http.StatusUnsupportedMediaType),
		Entry("unreachable", fmt.Errorf("extracting receipt: %w", scanning.ErrEndpointUnreachable), http.StatusServiceUnavailable),
		Entry("endpoint status", &scanning.EndpointError{StatusCode: 400}, http.StatusBadGateway),
		Entry("parse error", &receipt.ParseError{Kind: receipt.Unrecoverable}, http.StatusUnprocessableEntity),
		Entry("sink error", errors.New("writing rows: quota"), http.StatusInternalServerError),
	)
})

var _ = Describe("Server.Start", func() {
	It("stops when the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		server := NewServer(&mockProcessor{}, BasicAuth{})

		done := make(chan error, 1)
		go func() { done <- server.Start(ctx, "127.0.0.1:0") }()

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})

var _ = Describe("ContentTypeFor", func() {
	DescribeTable("extensions",
		func(name, want string) {
			Expect(ContentTypeFor(name)).To(Equal(want))
		},
		Entry("jpeg", "a.JPEG", "image/jpeg"),
		Entry("png", "a.png", "image/png"),
		Entry("pdf", "scan.pdf", "application/pdf"),
		Entry("heif", "a.heif", "image/heif"),
		Entry("unknown", "notes.txt", "application/octet-stream"),
	)
})
