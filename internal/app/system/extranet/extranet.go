// Package extranet queries the federation extranet for licences and member
// records.
package extranet

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/soap"
	"github.com/dalemusser/collectives/internal/domain/licence"
	"github.com/dalemusser/collectives/internal/domain/models"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned on network errors and unexpected faults.
	ErrUnavailable = errors.New("extranet unavailable")
	// ErrOtherClub is returned when the licence is managed by another club.
	ErrOtherClub = errors.New("licence belongs to another club")
)

const dateLayout = "2006-01-02"

// Fonction is a federation duty held by a member.
type Fonction struct {
	Code  string
	Style string
	Label string
}

// UserInfo is the member record returned by the extranet.
type UserInfo struct {
	Valid                 bool
	FirstName             string
	LastName              string
	Email                 string
	Phone                 string
	Gender                models.Gender
	DateOfBirth           time.Time
	EmergencyContactName  string
	EmergencyContactPhone string
	LicenceCategory       string
	Fonctions             []Fonction
}

// Client is what the rest of the application needs from the extranet.
type Client interface {
	CheckLicence(ctx context.Context, number string) (licence.Info, error)
	FetchUserInfo(ctx context.Context, number string) (UserInfo, error)
}

// Config configures the SOAP client.
type Config struct {
	Endpoint  string
	Namespace string
	Account   string
	Password  string
	Disabled  bool
	Timeout   time.Duration
}

// SOAPClient talks to the extranet SOAP endpoint. It authenticates lazily
// and reuses the session for later calls. When disabled it answers with
// development data and never touches the network.
type SOAPClient struct {
	cfg    Config
	soap   *soap.Client
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	connect []soap.Field
}

// New returns a client. A disabled client logs a warning once.
func New(cfg Config, logger *zap.Logger) *SOAPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Disabled {
		logger.Warn("extranet API disabled, using development data")
	}
	return &SOAPClient{
		cfg:    cfg,
		soap:   soap.New(cfg.Endpoint, cfg.Namespace, cfg.Timeout),
		logger: logger,
		now:    time.Now,
	}
}

// Disabled reports whether the client serves development data.
func (c *SOAPClient) Disabled() bool { return c.cfg.Disabled }

type authRequest struct {
	XMLName xml.Name `xml:"ns:auth"`
}

type authResponse struct {
	Return struct {
		Fields []soap.Field `xml:",any"`
	} `xml:"authReturn"`
}

type connect struct {
	Fields []soap.Field
}

type licenceRequest struct {
	XMLName xml.Name
	Connect connect `xml:"connect"`
	ID      string  `xml:"id"`
}

type verifyResponse struct {
	Return struct {
		Exists      int    `xml:"existe"`
		Inscription string `xml:"inscription"`
	} `xml:"verifierUnAdherentReturn"`
}

type extractResponse struct {
	Return struct {
		FirstName             string `xml:"prenom"`
		LastName              string `xml:"nom"`
		Mobile                string `xml:"portable"`
		Phone                 string `xml:"tel"`
		Email                 string `xml:"email"`
		EmergencyContactName  string `xml:"accident_qui"`
		EmergencyContactPhone string `xml:"accident_tel"`
		Category              string `xml:"categorie"`
		DateOfBirth           string `xml:"date_naissance"`
		Qualite               string `xml:"qualite"`
		Fonctions             []struct {
			Code  string `xml:"code"`
			Style string `xml:"style"`
			Label string `xml:"libelle"`
		} `xml:"fonctions>item"`
	} `xml:"extractionAdherentReturn"`
}

// session returns the connect structure, authenticating if needed.
func (c *SOAPClient) session(ctx context.Context) ([]soap.Field, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connect != nil {
		return c.connect, nil
	}

	var resp authResponse
	if err := c.soap.Call(ctx, "auth", authRequest{}, &resp); err != nil {
		return nil, c.classify("auth", err)
	}
	fields := make([]soap.Field, 0, len(resp.Return.Fields)+2)
	for _, f := range resp.Return.Fields {
		switch f.XMLName.Local {
		case "utilisateur", "motdepasse":
			continue
		}
		fields = append(fields, soap.Field{XMLName: xml.Name{Local: f.XMLName.Local}, Value: f.Value})
	}
	fields = append(fields,
		soap.Field{XMLName: xml.Name{Local: "utilisateur"}, Value: c.cfg.Account},
		soap.Field{XMLName: xml.Name{Local: "motdepasse"}, Value: c.cfg.Password},
	)
	c.connect = fields
	return fields, nil
}

func (c *SOAPClient) call(ctx context.Context, op, number string, resp any) error {
	fields, err := c.session(ctx)
	if err != nil {
		return err
	}
	req := licenceRequest{
		XMLName: xml.Name{Local: "ns:" + op},
		Connect: connect{Fields: fields},
		ID:      licence.Normalize(number),
	}
	if err := c.soap.Call(ctx, op, req, resp); err != nil {
		var fault *soap.Fault
		if errors.As(err, &fault) && !isOtherClub(fault) {
			// the session may have expired; authenticate again next time
			c.mu.Lock()
			c.connect = nil
			c.mu.Unlock()
		}
		return c.classify(op, err)
	}
	return nil
}

// CheckLicence reports whether the licence exists and when it was renewed.
func (c *SOAPClient) CheckLicence(ctx context.Context, number string) (licence.Info, error) {
	if c.cfg.Disabled {
		now := c.now().UTC()
		return licence.Info{Exists: true, RenewalDate: &now}, nil
	}

	var resp verifyResponse
	if err := c.call(ctx, "verifierUnAdherent", number, &resp); err != nil {
		return licence.Info{}, err
	}
	info := licence.Info{Exists: resp.Return.Exists == 1}
	if info.Exists && resp.Return.Inscription != "" {
		d, err := time.Parse(dateLayout, resp.Return.Inscription)
		if err != nil {
			return licence.Info{}, fmt.Errorf("%w: bad renewal date %q", ErrUnavailable, resp.Return.Inscription)
		}
		info.RenewalDate = &d
	}
	return info, nil
}

// FetchUserInfo returns the full member record.
func (c *SOAPClient) FetchUserInfo(ctx context.Context, number string) (UserInfo, error) {
	number = licence.Normalize(number)
	if c.cfg.Disabled {
		return UserInfo{
			Valid:           true,
			FirstName:       "User",
			LastName:        number,
			Email:           number + "@localhost",
			DateOfBirth:     time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
			LicenceCategory: "T1",
		}, nil
	}

	var resp extractResponse
	if err := c.call(ctx, "extractionAdherent", number, &resp); err != nil {
		return UserInfo{}, err
	}
	r := resp.Return
	dob, err := time.Parse(dateLayout, r.DateOfBirth)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: bad date of birth %q", ErrUnavailable, r.DateOfBirth)
	}
	phone := r.Mobile
	if phone == "" {
		phone = r.Phone
	}
	info := UserInfo{
		Valid:                 true,
		FirstName:             r.FirstName,
		LastName:              r.LastName,
		Email:                 r.Email,
		Phone:                 phone,
		Gender:                GenderOf(r.Qualite),
		DateOfBirth:           dob,
		EmergencyContactName:  r.EmergencyContactName,
		EmergencyContactPhone: r.EmergencyContactPhone,
		LicenceCategory:       r.Category,
	}
	for _, f := range r.Fonctions {
		info.Fonctions = append(info.Fonctions, Fonction{Code: f.Code, Style: f.Style, Label: f.Label})
	}
	return info, nil
}

// GenderOf maps the extranet "qualite" field.
func GenderOf(qualite string) models.Gender {
	switch strings.ToUpper(strings.TrimSpace(qualite)) {
	case "M":
		return models.GenderMan
	case "":
		return models.GenderUnknown
	}
	return models.GenderWoman
}

func isOtherClub(f *soap.Fault) bool {
	return strings.Contains(strings.ToLower(f.String), "club")
}

func (c *SOAPClient) classify(op string, err error) error {
	var fault *soap.Fault
	if errors.As(err, &fault) && isOtherClub(fault) {
		return ErrOtherClub
	}
	c.logger.Warn("extranet call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
