package sheet

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var _ = Describe("GoogleSheets", func() {
	var (
		server *ghttp.Server
		writer *GoogleSheets
		rows   []Row
		err    error
	)

	spreadsheetPath := "/v4/spreadsheets/sheet-id"

	decodeValues := func(r *http.Request) [][]interface{} {
		var body sheets.ValueRange
		Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
		return body.Values
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		rows = []Row{{"2024-03-01", "Foo Mart", "Milk", "1200", "JPY", ""}}

		var newErr error
		writer, newErr = NewGoogleSheets(context.Background(), "sheet-id", "",
			option.WithEndpoint(server.URL()+"/"),
			option.WithoutAuthentication(),
		)
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	When("the worksheet exists", func() {
		var appended [][]interface{}

		BeforeEach(func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, spreadsheetPath),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"sheets": []map[string]any{{"properties": map[string]any{"title": "Receipts"}}},
					}),
				),
				ghttp.CombineHandlers(
					func(w http.ResponseWriter, r *http.Request) {
						Expect(r.Method).To(Equal(http.MethodPost))
						Expect(r.URL.Path).To(HaveSuffix(":append"))
						Expect(r.URL.Path).To(ContainSubstring("Receipts"))
						Expect(r.URL.Query().Get("valueInputOption")).To(Equal("USER_ENTERED"))
						Expect(r.URL.Query().Get("insertDataOption")).To(Equal("INSERT_ROWS"))
						appended = decodeValues(r)
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{}),
				),
			)
		})

		JustBeforeEach(func() {
			err = writer.AppendRows(context.Background(), "Receipts", rows)
		})

		It("appends the rows", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(appended).To(Equal([][]interface{}{{"2024-03-01", "Foo Mart", "Milk", "1200", "JPY", ""}}))
		})

		It("does not create a worksheet", func() {
			Expect(server.ReceivedRequests()).To(HaveLen(2))
		})

		When("model text looks like a formula", func() {
			BeforeEach(func() {
				rows = []Row{{"2024-03-01", `=HYPERLINK("http://x")`, "+Milk, @Bread", "-5", "JPY", "-discount noted"}}
			})

			It("quotes the text cells but leaves numbers alone", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(appended).To(Equal([][]interface{}{{
					"2024-03-01", `'=HYPERLINK("http://x")`, "'+Milk, @Bread", "-5", "JPY", "'-discount noted",
				}}))
			})
		})

		It("remembers the worksheet on later appends", func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{}))
			Expect(writer.AppendRows(context.Background(), "Receipts", rows)).To(Succeed())
			Expect(server.ReceivedRequests()).To(HaveLen(3))
		})
	})

	When("the worksheet is missing", func() {
		var (
			added  string
			header [][]interface{}
		)

		BeforeEach(func() {
			server.AppendHandlers(
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"sheets": []map[string]any{{"properties": map[string]any{"title": "Receipts"}}},
				}),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, spreadsheetPath+":batchUpdate"),
					func(w http.ResponseWriter, r *http.Request) {
						var body sheets.BatchUpdateSpreadsheetRequest
						Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
						Expect(body.Requests).To(HaveLen(1))
						added = body.Requests[0].AddSheet.Properties.Title
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{}),
				),
				ghttp.CombineHandlers(
					func(w http.ResponseWriter, r *http.Request) {
						Expect(r.Method).To(Equal(http.MethodPut))
						Expect(r.URL.Query().Get("valueInputOption")).To(Equal("RAW"))
						header = decodeValues(r)
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{}),
				),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{}),
			)
		})

		JustBeforeEach(func() {
			err = writer.AppendRows(context.Background(), "2024-03", rows)
		})

		It("creates it with a header before appending", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(Equal("2024-03"))
			Expect(header).To(Equal([][]interface{}{{"date", "store", "items", "total", "currency", "note"}}))
			Expect(server.ReceivedRequests()).To(HaveLen(4))
		})
	})

	When("the append fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"sheets": []map[string]any{{"properties": map[string]any{"title": "Receipts"}}},
				}),
				ghttp.RespondWith(http.StatusForbidden, `{"error": {"code": 403, "message": "denied"}}`),
			)
		})

		JustBeforeEach(func() {
			err = writer.AppendRows(context.Background(), "Receipts", rows)
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("appending rows to Receipts")))
		})
	})

	When("there are no rows", func() {
		It("makes no requests", func() {
			Expect(writer.AppendRows(context.Background(), "Receipts", nil)).To(Succeed())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("NewGoogleSheets", func() {
	It("requires a spreadsheet id", func() {
		_, err := NewGoogleSheets(context.Background(), "", "")
		Expect(err).To(HaveOccurred())
	})

	It("rejects unreadable credentials", func() {
		_, err := NewGoogleSheets(context.Background(), "sheet-id", filepath.Join(GinkgoT().TempDir(), "missing.json"))
		Expect(err).To(MatchError(ContainSubstring("reading credentials")))
	})

	It("rejects malformed credentials", func() {
		path := filepath.Join(GinkgoT().TempDir(), "creds.json")
		Expect(os.WriteFile(path, []byte("not json"), 0o600)).To(Succeed())
		_, err := NewGoogleSheets(context.Background(), "sheet-id", path)
		Expect(err).To(MatchError(ContainSubstring("parsing credentials")))
	})
})

var _ = Describe("escapeFormulas", func() {
	DescribeTable("cells",
		func(in, want string) {
			Expect(escapeFormulas([]string{in})).To(Equal([]string{want}))
		},
		Entry("formula", "=1+1", "'=1+1"),
		Entry("at sign", "@cmd", "'@cmd"),
		Entry("plus text", "+Milk", "'+Milk"),
		Entry("negative number", "-12.50", "-12.50"),
		Entry("plain text", "Foo Mart", "Foo Mart"),
		Entry("empty", "", ""),
	)
})
