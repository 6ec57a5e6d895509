package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pliu/inbox/internal/auth"
	"github.com/pliu/inbox/internal/models"
	"github.com/pliu/inbox/internal/store/sqlstore"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *sqlstore.SQLStore {
	t.Helper()
	store, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newAuthHandler(t *testing.T) (*AuthHandler, *sqlstore.SQLStore) {
	store := newTestStore(t)
	return &AuthHandler{Store: store, Sessions: auth.NewSessions([]byte("test-secret"), false)}, store
}

func TestSignup(t *testing.T) {
	handler, store := newAuthHandler(t)

	body, _ := json.Marshal(map[string]interface{}{
		"username":    "testuser",
		"password":    "password123",
		"displayName": "Test User",
	})

	req, err := http.NewRequest("POST", "/api/auth/signup", bytes.NewBuffer(body))
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusCreated {
		t.Errorf("handler returned wrong status code: got %v want %v",
			status, http.StatusCreated)
	}

	var created models.User
	json.NewDecoder(rr.Body).Decode(&created)
	if created.ID == "" || !created.Public {
		t.Errorf("Expected a public user with an id, got %+v", created)
	}

	stored, err := store.GetUserByUsername(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("password123")) != nil {
		t.Error("Expected the password to be stored as a bcrypt hash")
	}

	// Test duplicate user
	req, _ = http.NewRequest("POST", "/api/auth/signup", bytes.NewBuffer(body))
	rr = httptest.NewRecorder()
	http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusConflict {
		t.Errorf("handler returned wrong status code for duplicate user: got %v want %v",
			status, http.StatusConflict)
	}
}

func TestSignupValidation(t *testing.T) {
	handler, _ := newAuthHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"username":`},
		{"missing password", `{"username":"bob"}`},
		{"blank username", `{"username":"  ","password":"pw"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/api/auth/signup", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestSignin(t *testing.T) {
	handler, store := newAuthHandler(t)

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	user := &models.User{Username: "testuser", DisplayName: "Test User", Password: string(hashedPassword), Public: true}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(Credentials{Username: "testuser", Password: "password123"})
	req, err := http.NewRequest("POST", "/api/auth/signin", bytes.NewBuffer(body))
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Signin).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	var got map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&got)
	if got["_id"] != user.ID {
		t.Errorf("Expected _id %s, got %v", user.ID, got["_id"])
	}
	if _, ok := got["password"]; ok {
		t.Error("Password hash must not be returned")
	}

	// Check cookies
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.SessionName {
		t.Fatalf("Expected a session cookie, got %v", cookies)
	}

	check, _ := http.NewRequest("GET", "/", nil)
	check.AddCookie(cookies[0])
	if id, err := handler.Sessions.UserID(check); err != nil || id != user.ID {
		t.Errorf("Session holds %q (%v), want %q", id, err, user.ID)
	}
}

func TestSigninInvalid(t *testing.T) {
	handler, store := newAuthHandler(t)

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	store.CreateUser(context.Background(), &models.User{Username: "testuser", Password: string(hashedPassword)})

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Username: "testuser", Password: "wrong"}},
		{"unknown user", Credentials{Username: "nobody", Password: "password123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.creds)
			req, _ := http.NewRequest("POST", "/api/auth/signin", bytes.NewBuffer(body))
			rr := httptest.NewRecorder()
			http.HandlerFunc(handler.Signin).ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
			}
			var resp map[string]string
			json.NewDecoder(rr.Body).Decode(&resp)
			if resp["message"] != invalidCredentialsMessage {
				t.Errorf("message: got %q want %q", resp["message"], invalidCredentialsMessage)
			}
			if len(rr.Result().Cookies()) != 0 {
				t.Error("No session cookie expected")
			}
		})
	}
}

func TestSignout(t *testing.T) {
	handler, _ := newAuthHandler(t)

	req, _ := http.NewRequest("GET", "/api/auth/signout", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Signout).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected an expired session cookie, got %v", cookies)
	}
}
