package http

import (
	"math"
	"net/url"
	"strconv"

	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

const (
	defaultUserPage    = 1
	defaultUserPerPage = 10
	maxUserPerPage     = 100

	defaultAdminPage    = 1
	defaultAdminPerPage = 25
)

// parseUserPage reads page and per_page for the user listing. If either is
// not a number both fall back to their defaults.
func parseUserPage(q url.Values) (offset, limit int, err error) {
	page, pageErr := intParam(q, "page", defaultUserPage)
	perPage, perPageErr := intParam(q, "per_page", defaultUserPerPage)
	if pageErr != nil || perPageErr != nil {
		page, perPage = defaultUserPage, defaultUserPerPage
	}
	if perPage > maxUserPerPage {
		perPage = maxUserPerPage
	}
	return pageBounds(page, perPage)
}

// parseAdminPage reads page and per_page for the admin listing, each
// falling back to its default independently. maxPerPage of 0 disables the cap.
func parseAdminPage(q url.Values, maxPerPage int) (offset, limit int, err error) {
	page, err := intParam(q, "page", defaultAdminPage)
	if err != nil {
		page = defaultAdminPage
	}
	perPage, err := intParam(q, "per_page", defaultAdminPerPage)
	if err != nil {
		perPage = defaultAdminPerPage
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return pageBounds(page, perPage)
}

// pageBounds turns page and per_page into an offset and limit. Values past
// any realistic table size are clamped so they simply yield an empty or
// complete page.
func pageBounds(page, perPage int) (int, int, error) {
	if perPage < 0 || (perPage > 0 && page < 1) {
		return 0, 0, errpkg.InvalidArgument("page or per_page invalid.")
	}
	if perPage > math.MaxInt32 {
		perPage = math.MaxInt32
	}
	if perPage > 0 && page-1 > math.MaxInt32/perPage {
		return math.MaxInt32, perPage, nil
	}
	return (page - 1) * perPage, perPage, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	if !q.Has(key) {
		return def, nil
	}
	return strconv.Atoi(q.Get(key))
}
