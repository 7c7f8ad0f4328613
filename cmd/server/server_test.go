package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/op"
)

var fruits = core.MustParseRepository("test/fruits")

func openInstance(t *testing.T) *LayerDB.Instance {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("XDG_DATA_HOME", home)

	instance, err := LayerDB.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("Failed to open instance: %v", err)
	}
	t.Cleanup(func() { _ = instance.Close() })
	return instance
}

func setupTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	identity := core.Identity{Name: "test", Email: "test@test.com"}

	server := NewServer(openInstance(t), identity, opts...)
	if err := server.Start("127.0.0.1:0"); err != nil { // :0 picks a free port
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	return server, "http://" + server.Addr()
}

// seedFruits commits two images to test/fruits.
func seedFruits(t *testing.T, instance *LayerDB.Instance) *op.Repository {
	t.Helper()
	ctx := context.Background()
	repo := instance.Repository(fruits)
	if err := repo.Init(ctx); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name TEXT); INSERT INTO fruits VALUES (1, 'apple')`,
		`INSERT INTO fruits VALUES (2, 'banana')`,
	} {
		if err := repo.Adapter().RunIn(ctx, repo.Schema(), stmt); err != nil {
			t.Fatalf("Failed to run %q: %v", stmt, err)
		}
		if _, err := repo.Commit(ctx, op.WithComment(stmt)); err != nil {
			t.Fatalf("Failed to commit: %v", err)
		}
	}
	return repo
}

func request(t *testing.T, method, url, token string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, data
}

func getJSON(t *testing.T, url, token string, result any) Response {
	t.Helper()
	_, data := request(t, http.MethodGet, url, token, nil)
	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("Failed to parse response %q: %v", data, err)
	}
	if result != nil && resp.Success {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			t.Fatalf("Failed to parse result: %v", err)
		}
	}
	return resp
}

func objectIDs(t *testing.T, repo *op.Repository) []string {
	t.Helper()
	img, err := repo.Head(context.Background())
	if err != nil {
		t.Fatalf("Failed to read HEAD: %v", err)
	}
	return img.ObjectIDs()
}

func TestServerStartStop(t *testing.T) {
	server, base := setupTestServer(t)
	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}

	resp := getJSON(t, base+"/health", "", nil)
	if !resp.Success || resp.Type != "health" {
		t.Errorf("Unexpected health response: %+v", resp)
	}
}

func TestServerObjectUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	server, base := setupTestServer(t)

	local := openInstance(t)
	repo := seedFruits(t, local)
	ids := objectIDs(t, repo)
	if len(ids) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(ids))
	}

	handler := &objects.HTTPHandler{BaseURL: base}
	locations, err := local.Store.Upload(ctx, ids, handler, nil)
	if err != nil {
		t.Fatalf("Failed to upload: %v", err)
	}
	if len(locations) != 2 {
		t.Errorf("Expected 2 locations, got %d", len(locations))
	}
	for id, loc := range locations {
		if loc.URL != base+"/objects/"+id || loc.Protocol != objects.ProtocolHTTP {
			t.Errorf("Unexpected location %+v", loc)
		}
	}

	for _, id := range ids {
		if !server.instance.Store.IsCached(id) {
			t.Errorf("Expected %s on the server", id)
		}
		want, err := local.Store.ReadPayload(id)
		if err != nil {
			t.Fatalf("Failed to read local payload: %v", err)
		}
		got, err := server.instance.Store.ReadPayload(id)
		if err != nil {
			t.Fatalf("Failed to read server payload: %v", err)
		}
		if !bytes.Equal(want, got) {
			t.Errorf("Payload of %s differs", id)
		}

		exists, err := handler.Exists(ctx, base+"/objects/"+id)
		if err != nil || !exists {
			t.Errorf("Expected %s to exist: %v", id, err)
		}
	}

	missing := core.HashString("missing")
	exists, err := handler.Exists(ctx, base+"/objects/"+missing)
	if err != nil {
		t.Fatalf("Failed to check object: %v", err)
	}
	if exists {
		t.Error("Expected missing object to not exist")
	}
	if status, _ := request(t, http.MethodGet, base+"/objects/"+missing, "", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}

	// a second upload finds the recorded locations
	again, err := local.Store.Upload(ctx, ids, handler, nil)
	if err != nil {
		t.Fatalf("Failed to upload again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no new locations, got %d", len(again))
	}
}

func TestServerRejectsCorruptObject(t *testing.T) {
	server, base := setupTestServer(t)
	id := core.HashString("payload")

	status, _ := request(t, http.MethodPut, base+"/objects/"+id, "", []byte("not a payload"))
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", status)
	}
	if server.instance.Store.IsCached(id) {
		t.Error("Expected corrupt object to be rejected")
	}

	status, _ = request(t, http.MethodPut, base+"/objects/not-a-hash", "", []byte("x"))
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid id, got %d", status)
	}
}

func TestServerRepositoriesAndImages(t *testing.T) {
	server, base := setupTestServer(t)
	seedFruits(t, server.instance)

	var repos []RepositoryInfo
	resp := getJSON(t, base+"/repositories", "", &repos)
	if !resp.Success {
		t.Fatalf("Failed to list repositories: %s", resp.Error)
	}
	if len(repos) != 1 || repos[0].Repository != "test/fruits" || repos[0].Images != 3 || repos[0].Head == "" {
		t.Errorf("Unexpected repositories: %+v", repos)
	}

	var images []ImageInfo
	resp = getJSON(t, base+"/repositories/test/fruits/images", "", &images)
	if !resp.Success {
		t.Fatalf("Failed to list images: %s", resp.Error)
	}
	if len(images) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(images))
	}
	if images[0].Hash != repos[0].Head {
		t.Errorf("Expected newest image %s first, got %s", repos[0].Head, images[0].Hash)
	}
	if !strings.Contains(strings.Join(images[0].Tags, ","), core.TagLatest) {
		t.Errorf("Expected newest image to be tagged latest, got %v", images[0].Tags)
	}
	if images[2].Hash != core.ZeroHash {
		t.Errorf("Expected the root image last, got %s", images[2].Hash)
	}
	if len(images[0].Tables) != 1 || images[0].Tables[0] != "fruits" {
		t.Errorf("Unexpected tables: %v", images[0].Tables)
	}

	resp = getJSON(t, base+"/repositories/test/fruits/images?ref=nope", "", nil)
	if resp.Success {
		t.Error("Expected unknown ref to fail")
	}
}

func TestServerBuild(t *testing.T) {
	server, base := setupTestServer(t)
	seedFruits(t, server.instance)

	body, _ := json.Marshal(BuildRequest{
		Script: "FROM test/fruits:latest IMPORT fruits\nSQL CREATE TABLE ${PREFIX}_fruits AS SELECT * FROM fruits WHERE fruit_id > 1\n",
		Params: map[string]string{"PREFIX": "late"},
		Output: "test/derived",
	})
	status, data := request(t, http.MethodPost, base+"/build", "", body)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, data)
	}
	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	var br BuildResponse
	if err := json.Unmarshal(resp.Result, &br); err != nil {
		t.Fatalf("Failed to parse build result: %v", err)
	}
	if len(br.Steps) != 2 || br.RunID == "" {
		t.Fatalf("Unexpected build result: %+v", br)
	}
	if br.Outputs["test/derived"] == "" {
		t.Errorf("Expected an output image, got %v", br.Outputs)
	}

	exists, err := server.instance.Engine.TableExists(context.Background(), core.MustParseRepository("test/derived").Schema(), "late_fruits")
	if err != nil || !exists {
		t.Errorf("Expected late_fruits to be built: %v", err)
	}

	body, _ = json.Marshal(BuildRequest{Script: "SELECT 1\n", Output: "test/broken"})
	status, _ = request(t, http.MethodPost, base+"/build", "", body)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for a broken script, got %d", status)
	}
}

const testSecret = "test-secret-key-for-jwt-validation"

// createTestJWT creates a JWT token for testing
func createTestJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to create test JWT: %v", err)
	}
	return tokenString
}

func TestAuthRequired(t *testing.T) {
	_, base := setupTestServer(t, WithAuth(AuthConfig{JWTSecret: testSecret}))

	status, data := request(t, http.MethodGet, base+"/repositories", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", status)
	}
	resp, _ := DecodeResponse(data)
	if resp.Success || resp.Type != "auth" || resp.Error == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	// health stays open
	if status, _ := request(t, http.MethodGet, base+"/health", "", nil); status != http.StatusOK {
		t.Errorf("Expected open health check, got %d", status)
	}
}

func TestAuthWithValidJWT(t *testing.T) {
	_, base := setupTestServer(t, WithAuth(AuthConfig{JWTSecret: testSecret, Issuer: "layerdb"}))
	token := createTestJWT(t, testSecret, jwt.MapClaims{"name": "Ada", "email": "ada@example.com", "iss": "layerdb"})

	var ar AuthResponse
	resp := getJSON(t, base+"/whoami", token, &ar)
	if !resp.Success {
		t.Fatalf("Expected success, got %s", resp.Error)
	}
	if !ar.Authenticated || ar.Identity != "Ada <ada@example.com>" {
		t.Errorf("Unexpected identity: %+v", ar)
	}
	if ar.ExpiresIn <= 0 || ar.ExpiresIn > 3600 {
		t.Errorf("Unexpected expiry %d", ar.ExpiresIn)
	}

	resp = getJSON(t, base+"/repositories", token, nil)
	if !resp.Success {
		t.Errorf("Expected authorized listing, got %s", resp.Error)
	}
}

func TestAuthWithInvalidJWT(t *testing.T) {
	_, base := setupTestServer(t, WithAuth(AuthConfig{JWTSecret: testSecret, Issuer: "layerdb", Audience: "objects"}))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", createTestJWT(t, "other-secret", jwt.MapClaims{"name": "Ada", "iss": "layerdb", "aud": "objects"})},
		{"wrong issuer", createTestJWT(t, testSecret, jwt.MapClaims{"name": "Ada", "iss": "elsewhere", "aud": "objects"})},
		{"wrong audience", createTestJWT(t, testSecret, jwt.MapClaims{"name": "Ada", "iss": "layerdb", "aud": "builds"})},
		{"no identity", createTestJWT(t, testSecret, jwt.MapClaims{"iss": "layerdb", "aud": "objects"})},
		{"expired", createTestJWT(t, testSecret, jwt.MapClaims{"name": "Ada", "iss": "layerdb", "aud": "objects", "exp": time.Now().Add(-time.Hour).Unix()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := request(t, http.MethodGet, base+"/whoami", tt.token, nil)
			if status != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", status)
			}
		})
	}
}

func TestAuthenticatedUpload(t *testing.T) {
	ctx := context.Background()
	server, base := setupTestServer(t, WithAuth(AuthConfig{JWTSecret: testSecret}))
	local := openInstance(t)
	ids := objectIDs(t, seedFruits(t, local))

	if _, err := local.Store.Upload(ctx, ids, &objects.HTTPHandler{BaseURL: base}, nil); err == nil {
		t.Error("Expected upload without a token to fail")
	}

	token := createTestJWT(t, testSecret, jwt.MapClaims{"email": "ci@example.com"})
	if _, err := local.Store.Upload(ctx, ids, &objects.HTTPHandler{BaseURL: base, Token: token}, nil); err != nil {
		t.Fatalf("Failed to upload: %v", err)
	}
	for _, id := range ids {
		if !server.instance.Store.IsCached(id) {
			t.Errorf("Expected %s on the server", id)
		}
	}
}

func TestIdentityUnauthenticated(t *testing.T) {
	_, base := setupTestServer(t)

	var ar AuthResponse
	getJSON(t, base+"/whoami", "", &ar)
	if ar.Authenticated || ar.Identity != "test <test@test.com>" {
		t.Errorf("Expected the server identity, got %+v", ar)
	}
}

// generateTestCertificate creates a self-signed certificate for testing
func generateTestCertificate(t *testing.T, certFile, keyFile string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
}

func TestTLSServer(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := tmpDir + "/cert.pem"
	keyFile := tmpDir + "/key.pem"
	generateTestCertificate(t, certFile, keyFile)

	server := NewServer(openInstance(t), core.Identity{Name: "test", Email: "test@test.com"})
	if err := server.StartTLS("127.0.0.1:0", certFile, keyFile); err != nil {
		t.Fatalf("Failed to start TLS server: %v", err)
	}
	defer server.Stop(context.Background())

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("Failed to read cert: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}

	resp, err := client.Get("https://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Failed to connect over TLS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	// the default client does not trust the self-signed certificate
	if _, err := http.Get("https://" + server.Addr() + "/health"); err == nil {
		t.Error("Expected untrusted certificate to fail")
	}
}

func TestTLSServerInvalidCert(t *testing.T) {
	server := NewServer(openInstance(t), core.Identity{})
	if err := server.StartTLS("127.0.0.1:0", "/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("Expected error for missing certificate")
	}
}
