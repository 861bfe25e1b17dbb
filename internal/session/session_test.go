package session

import (
	"testing"
)

func TestLoginLogout(t *testing.T) {
	c := NewContext(nil, nil)
	if c.IsLoggedIn() {
		t.Fatal("new context should be logged out")
	}
	if c.Logger() == nil {
		t.Fatal("logger should default")
	}

	c.Login(&Session{ServerURL: "http://example.test", APIKey: "k", UserID: 5})
	s, ok := c.Current()
	if !ok || s.UserID != 5 {
		t.Fatalf("Current: got %+v ok=%v", s, ok)
	}

	s.UserID = 9
	again, _ := c.Current()
	if again.UserID != 5 {
		t.Fatal("Current should return a copy")
	}

	c.Logout()
	if c.IsLoggedIn() {
		t.Fatal("still logged in after Logout")
	}
}

func TestSessionClient(t *testing.T) {
	s := &Session{ServerURL: "http://example.test/", APIKey: "k"}
	cl := s.Client()
	if cl.BaseURL != "http://example.test" || cl.APIKey != "k" {
		t.Fatalf("client: got %s %s", cl.BaseURL, cl.APIKey)
	}
}
