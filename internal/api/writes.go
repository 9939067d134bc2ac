package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/everhouse/clubsync/internal/model"
	"github.com/everhouse/clubsync/internal/util"
)

// The write endpoints all follow the same contract: the response body is
// the canonical created/updated object, which replaces any optimistic
// local representation.

// CreateAnnouncement posts a new announcement and returns the canonical one.
func (c *Client) CreateAnnouncement(ctx context.Context, a *model.Announcement) (*model.Announcement, error) {
	var out model.Announcement
	if err := c.doJSON(ctx, http.MethodPost, "/announcements", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAnnouncement replaces an announcement and returns the canonical one.
func (c *Client) UpdateAnnouncement(ctx context.Context, a *model.Announcement) (*model.Announcement, error) {
	var out model.Announcement
	if err := c.doJSON(ctx, http.MethodPut, "/announcements/"+url.PathEscape(a.ID), a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAnnouncement removes an announcement.
func (c *Client) DeleteAnnouncement(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/announcements/"+url.PathEscape(id), nil, nil)
}

// CreateCafeItem posts a new café menu item and returns the canonical one.
// A missing slug is derived from the item name.
func (c *Client) CreateCafeItem(ctx context.Context, item *model.CafeItem) (*model.CafeItem, error) {
	if item.Slug == "" {
		item.Slug = util.Slugify(item.Name)
	}
	if !util.IsValidSlug(item.Slug) {
		return nil, fmt.Errorf("api: invalid cafe item slug %q", item.Slug)
	}
	var out model.CafeItem
	if err := c.doJSON(ctx, http.MethodPost, "/cafe-menu", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCafeItem replaces a café menu item and returns the canonical one.
func (c *Client) UpdateCafeItem(ctx context.Context, item *model.CafeItem) (*model.CafeItem, error) {
	var out model.CafeItem
	if err := c.doJSON(ctx, http.MethodPut, "/cafe-menu/"+url.PathEscape(item.ID), item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCafeItem removes a café menu item.
func (c *Client) DeleteCafeItem(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/cafe-menu/"+url.PathEscape(id), nil, nil)
}

// CreateClubEvent posts a new club event and returns the canonical one.
func (c *Client) CreateClubEvent(ctx context.Context, ev *model.ClubEvent) (*model.ClubEvent, error) {
	var out model.ClubEvent
	if err := c.doJSON(ctx, http.MethodPost, "/events", ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateClubEvent replaces a club event and returns the canonical one.
func (c *Client) UpdateClubEvent(ctx context.Context, ev *model.ClubEvent) (*model.ClubEvent, error) {
	var out model.ClubEvent
	if err := c.doJSON(ctx, http.MethodPut, "/events/"+url.PathEscape(ev.ID), ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteClubEvent removes a club event.
func (c *Client) DeleteClubEvent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil)
}

// LinkBookingSlot attaches a member to a booking slot and returns the
// updated booking.
func (c *Client) LinkBookingSlot(ctx context.Context, bookingID, slotID, memberEmail string) (*model.Booking, error) {
	body := map[string]string{"slotId": slotID, "memberEmail": memberEmail}
	var out model.Booking
	if err := c.doJSON(ctx, http.MethodPost, "/bookings/"+url.PathEscape(bookingID)+"/links", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnlinkBookingSlot detaches a member from a booking slot and returns the
// updated booking.
func (c *Client) UnlinkBookingSlot(ctx context.Context, bookingID, slotID string) (*model.Booking, error) {
	var out model.Booking
	if err := c.doJSON(ctx, http.MethodDelete, "/bookings/"+url.PathEscape(bookingID)+"/links/"+url.PathEscape(slotID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
