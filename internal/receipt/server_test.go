package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/8UOU8/ReceiptScannerDK/internal/extraction"
)

func multipartUpload(field, filename string, content []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(content)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).NotTo(HaveOccurred())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		db.settings = Settings{Provider: "gemini", APIKey: "test-key"}
		storage = newMockStorage()
		extractor = newMockExtractor()
		idGen := &mockIDGenerator{ids: []string{"id-1", "id-2", "id-3"}}
		timeSrc := &mockTimeSource{now: time.Date(2025, 12, 23, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, storage, extractor.factory(), idGen, timeSrc)
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should return the HTML interface", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("ReceiptScanner DK"))
		})
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				db.receipts["id1"] = &Item{ID: "id1", Status: StatusIdle, Seq: 1}
				db.receipts["id2"] = &Item{ID: "id2", Status: StatusCompleted, Seq: 2}
			})

			It("should return all receipts as JSON", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var items []*Item
				Expect(json.NewDecoder(resp.Body).Decode(&items)).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(2))
				Expect(items[0].ID).To(Equal("id1"))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty JSON array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})
	})

	Describe("handleUploadReceipts", func() {
		When("no API key is stored", func() {
			BeforeEach(func() {
				db.settings = Settings{}
			})

			It("refuses the upload with a settings hint", func() {
				body, contentType := multipartUpload("files", "receipt.jpg", []byte("image bytes"))
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				respBody, _ := io.ReadAll(resp.Body)
				Expect(string(respBody)).To(ContainSubstring("API key"))
			})
		})

		When("a key is stored", func() {
			It("accepts the batch and returns the created items", func() {
				body, contentType := multipartUpload("files", "receipt.jpg", []byte("image bytes"))
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var items []*Item
				Expect(json.NewDecoder(resp.Body).Decode(&items)).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(1))
				Expect(items[0].ID).To(Equal("id-1"))
				Expect(items[0].Status).To(Equal(StatusIdle))
			})

			It("accepts the single-file field name", func() {
				body, contentType := multipartUpload("file", "receipt.jpg", []byte("image bytes"))
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})

		When("no file is attached", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.Close()).NotTo(HaveOccurred())

				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleGetReceipt", func() {
		When("the receipt does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleEditReceipt", func() {
		putEdit := func(id string, data extraction.ReceiptData) *http.Response {
			payload, err := json.Marshal(data)
			Expect(err).NotTo(HaveOccurred())
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/receipts/"+id, bytes.NewReader(payload))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the receipt is completed", func() {
			BeforeEach(func() {
				items, err := service.Enqueue([]UploadFile{
					{Filename: "receipt.jpg", ContentType: "image/jpeg", Data: []byte("image bytes")},
				})
				Expect(err).NotTo(HaveOccurred())
				service.processReceipt(items[0].ID)
			})

			It("stores the corrected values and returns the item", func() {
				resp := putEdit("id-1", extraction.ReceiptData{
					ShopName: "Corrected", PurchaseDate: "2025-01-01", TotalAmount: 55, Moms: 11,
				})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var item Item
				Expect(json.NewDecoder(resp.Body).Decode(&item)).NotTo(HaveOccurred())
				Expect(item.Data.ShopName).To(Equal("Corrected"))
				Expect(item.Data.TotalAmount).To(Equal(55.0))
			})
		})

		When("the receipt has not completed", func() {
			BeforeEach(func() {
				db.receipts["id-1"] = &Item{ID: "id-1", Status: StatusProcessing, Seq: 1}
			})

			It("should return status Conflict", func() {
				resp := putEdit("id-1", extraction.ReceiptData{ShopName: "Corrected"})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})

		When("the receipt does not exist", func() {
			It("should return status Not Found", func() {
				resp := putEdit("nonexistent", extraction.ReceiptData{ShopName: "Corrected"})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["id-1"] = &Item{ID: "id-1", Status: StatusCompleted, Seq: 1}
		})

		deleteReceipt := func(path string) *http.Response {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+path, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("removes the item and returns No Content", func() {
			resp := deleteReceipt("/api/receipts/id-1")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).NotTo(HaveKey("id-1"))
		})

		It("returns No Content for an absent ID", func() {
			resp := deleteReceipt("/api/receipts/nonexistent")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("clears all items on the collection route", func() {
			resp := deleteReceipt("/api/receipts")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
		})
	})

	Describe("handleStats", func() {
		BeforeEach(func() {
			db.receipts["id-1"] = &Item{ID: "id-1", Status: StatusCompleted, Seq: 1,
				Data: &extraction.ReceiptData{ShopName: "Netto", TotalAmount: 100, Moms: 20}}
			db.receipts["id-2"] = &Item{ID: "id-2", Status: StatusError, Seq: 2}
		})

		It("returns aggregates over completed items only", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/stats")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var stats AggregateStats
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).NotTo(HaveOccurred())
			Expect(stats.CompletedCount).To(Equal(1))
			Expect(stats.TotalSpent).To(Equal(100.0))
			Expect(stats.PerShop).To(HaveLen(1))
		})
	})

	Describe("handleExportCSV", func() {
		When("nothing has completed", func() {
			It("should return status Conflict", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export.csv")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})

		When("completed items exist", func() {
			BeforeEach(func() {
				db.receipts["id-1"] = &Item{ID: "id-1", Status: StatusCompleted, Seq: 1,
					Data: &extraction.ReceiptData{ShopName: "Netto", PurchaseDate: "2025-12-23", TotalAmount: 100, Moms: 20}}
			})

			It("downloads a CSV attachment", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export.csv")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/csv; charset=utf-8"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts_export_"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("Netto"))
			})
		})
	})

	Describe("handleGetSettings", func() {
		It("masks the credential", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/settings")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("test-key"))

			var settings map[string]any
			Expect(json.Unmarshal(body, &settings)).NotTo(HaveOccurred())
			Expect(settings["provider"]).To(Equal("gemini"))
			Expect(settings["has_api_key"]).To(Equal(true))
		})
	})

	Describe("handleUpdateSettings", func() {
		putSettings := func(payload string) *http.Response {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/settings", strings.NewReader(payload))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("stores new settings", func() {
			resp := putSettings(`{"provider":"openrouter","api_key":"sk-new","model":"google/gemini-2.0-flash-001"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			Expect(db.settings.Provider).To(Equal("openrouter"))
			Expect(db.settings.APIKey).To(Equal("sk-new"))
		})

		It("rejects unknown providers", func() {
			resp := putSettings(`{"provider":"mistral"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("accepts requests with valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
