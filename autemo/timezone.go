package autemo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// timezoneSlots is the site's discrete timezone enumeration: 35 fixed values
// from -12h to +14h including the half-hour zones it knows about. The map
// value is the option value the profile form expects.
var timezoneSlots = map[float64]string{
	-12:   "-12",
	-11:   "-11",
	-10:   "-10",
	-9:    "-9",
	-8:    "-8",
	-7:    "-7",
	-6:    "-6",
	-5:    "-5",
	-4:    "-4",
	-3.5:  "-3.5",
	-3:    "-3",
	-2:    "-2",
	-1:    "-1",
	0:     "0",
	1:     "1",
	2:     "2",
	3:     "3",
	3.5:   "3.5",
	4:     "4",
	4.5:   "4.5",
	5:     "5",
	5.5:   "5.5",
	5.75:  "5.75",
	6:     "6",
	6.5:   "6.5",
	7:     "7",
	8:     "8",
	9:     "9",
	9.5:   "9.5",
	10:    "10",
	10.5:  "10.5",
	11:    "11",
	12:    "12",
	13:    "13",
	14:    "14",
}

// timezoneSlot maps a real UTC offset (DST included) to the site's discrete
// slot. The site's own timezone handling is off by one slot, so a -1h
// compensation is applied; when the compensated value is a half-hour zone the
// site does not have, it falls back a further half hour.
func timezoneSlot(offsetHours float64) (string, bool) {
	if slot, ok := timezoneSlots[offsetHours-1]; ok {
		return slot, true
	}
	if slot, ok := timezoneSlots[offsetHours-1.5]; ok {
		return slot, true
	}
	return "", false
}

// SetUserTimezone updates the account's timezone on the remote profile so
// post dates arrive in the client's local time. The profile endpoint only
// accepts full-form resubmissions, so the user's existing name, email and
// country are fetched and sent back alongside the new zone.
//
// Returns the HTTP status of the update, or -1 without any request when the
// offset maps to no slot in the site's table.
func (c *Client) SetUserTimezone(ctx context.Context, token string, offsetHours float64) (int, error) {
	slot, ok := timezoneSlot(offsetHours)
	if !ok {
		c.logger.Warn("No timezone slot for offset", "offset_hours", offsetHours)
		return -1, nil
	}

	profileURL := c.baseURL + profilePath

	var form url.Values

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", userAgent)
			req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("Profile fetch failed, will retry", "url", profileURL, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			doc, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return fmt.Errorf("parse profile page: %w", err)
			}

			form = url.Values{
				"yourname":  {doc.Find("input#yourname").AttrOr("value", "")},
				"email":     {doc.Find("input#email").AttrOr("value", "")},
				"country":   {doc.Find("select#country option[selected]").AttrOr("value", "")},
				"gmt":       {slot},
				"Submit":    {"Update"},
				"submitted": {"TRUE"},
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying profile fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return -1, &NetworkError{Op: "fetch profile", URL: profileURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, profileURL, strings.NewReader(form.Encode()))
	if err != nil {
		return -1, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return -1, &NetworkError{Op: "update profile", URL: profileURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("Timezone updated on remote profile",
		"offset_hours", offsetHours, "slot", slot, "status_code", resp.StatusCode)

	return resp.StatusCode, nil
}
