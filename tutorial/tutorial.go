// Package tutorial holds two small gin apps walking through routing, requests, responses,
// templates, sessions and error handling.
package tutorial

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"climbwall/frontend"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	SessionCookie = "session"
	sessionTTL    = 24 * time.Hour
)

var ErrNoSession = errors.New("no session data")

// NewHelloRouter The smallest app, a single route
func NewHelloRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello, World!")
	})
	return r
}

// NewBasicsRouter Routing, request and response objects, templates, sessions and error pages
func NewBasicsRouter(secretKey string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error(fmt.Sprintf("Recovered from panic: %v", recovered))
		c.String(http.StatusInternalServerError, "Internal server error")
	}))
	r.SetHTMLTemplate(frontend.Templates())
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Page not found")
	})

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to the Home Page!")
	})
	r.GET("/about", func(c *gin.Context) {
		c.String(http.StatusOK, "This is the About Page.")
	})
	r.GET("/greet/:name", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello, %s!", c.Param("name"))
	})
	r.Any("/submit", submit)
	r.GET("/custom_response", func(c *gin.Context) {
		c.Header("X-Custom-Header", "Value")
		c.String(http.StatusOK, "This is a custom response!")
	})
	r.GET("/hello/:name", func(c *gin.Context) {
		c.HTML(http.StatusOK, "hello.tmpl", gin.H{"name": c.Param("name")})
	})

	sessions := SessionSigner{Key: []byte(secretKey)}
	r.GET("/set_session/:username", func(c *gin.Context) {
		username := c.Param("username")
		token, err := sessions.Sign(username, time.Now())
		if err != nil {
			c.String(http.StatusInternalServerError, "Internal server error")
			return
		}
		c.SetCookie(SessionCookie, token, 0, "/", "", false, true)
		c.String(http.StatusOK, "Session set for %s", username)
	})
	r.GET("/get_session", func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil {
			c.String(http.StatusOK, "No session data")
			return
		}
		username, err := sessions.Username(token, time.Now())
		if err != nil {
			log.Debug(fmt.Sprintf("Rejected session cookie: %s", err.Error()))
			c.String(http.StatusOK, "No session data")
			return
		}
		c.String(http.StatusOK, "Hello, %s!", username)
	})
	return r
}

// submit Greet the username of the form, or of the query string
func submit(c *gin.Context) {
	username := c.PostForm("username")
	if username == "" {
		username = c.Query("username")
	}
	// a missing username is a client error, it is not greeted as "None"
	if username == "" {
		c.String(http.StatusBadRequest, "Please provide a username")
		return
	}
	c.String(http.StatusOK, "Hello, %s!", username)
}

// SessionSigner Stores the session in a HS256 signed token
type SessionSigner struct {
	Key []byte
}

// Sign Token holding username, valid for a day from now
func (s SessionSigner) Sign(username string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(sessionTTL).Unix(),
	})
	return token.SignedString(s.Key)
}

// Username Verify the token and return its username
func (s SessionSigner) Username(tokenString string, now time.Time) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.Key, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || !claims.VerifyExpiresAt(now.Unix(), true) {
		return "", ErrNoSession
	}
	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return "", ErrNoSession
	}
	return username, nil
}
