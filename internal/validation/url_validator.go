package validation

import (
	"errors"
	"net"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("download_url", validateDownloadURL)
	_ = validate.RegisterValidation("safe_url", validateSafeURL)
}

// ValidateTaskRequest checks a submission and reports the first offending
// field the way clients expect it, e.g. "repo_id invalid.".
func ValidateTaskRequest(req *domain.CreateTaskRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return errpkg.InvalidArgument("%s invalid.", verrs[0].Field())
	}
	return errpkg.InvalidArgument("invalid request")
}

// ValidateURL rejects anything but absolute http(s) URLs. With blockPrivate
// set, hosts on loopback, private or link-local networks are refused too.
func ValidateURL(raw string, blockPrivate bool) error {
	tag := "required,download_url"
	if blockPrivate {
		tag += ",safe_url"
	}
	if err := validate.Var(raw, tag); err != nil {
		return errpkg.InvalidArgument("url invalid.")
	}
	return nil
}

func validateDownloadURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.Hostname() != ""
}

func validateSafeURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}

	host := u.Hostname()

	forbiddenHosts := []string{
		"localhost",
		"127.0.0.1",
		"::1",
		"0.0.0.0",
		"169.254.169.254",
	}

	for _, forbidden := range forbiddenHosts {
		if strings.EqualFold(host, forbidden) {
			return false
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}

	return true
}
