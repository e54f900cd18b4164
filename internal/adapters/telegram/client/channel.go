package tgclient

import (
	"context"
	"mime"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
)

// directChannel: обычная личная переписка. Подписи к вложениям поддерживаются.
type directChannel struct {
	conn *conn
	to   tg.InputPeerClass
}

func (d *directChannel) SupportsCaptions() bool { return true }

func (d *directChannel) SendText(ctx context.Context, text string) error {
	_, err := d.conn.sender.To(d.to).Text(ctx, text)
	return mapError(err)
}

func (d *directChannel) SendPhoto(ctx context.Context, path, caption string) error {
	file, err := d.upload(ctx, path)
	if err != nil {
		return err
	}
	_, err = d.conn.sender.To(d.to).Media(ctx, message.UploadedPhoto(file, captionOf(caption)...))
	return mapError(err)
}

func (d *directChannel) SendVideo(ctx context.Context, path, caption string) error {
	file, err := d.upload(ctx, path)
	if err != nil {
		return err
	}
	doc := message.UploadedDocument(file, captionOf(caption)...).
		MIME(mimeOf(path, "video/mp4")).
		Filename(filepath.Base(path)).
		Video()
	_, err = d.conn.sender.To(d.to).Media(ctx, doc)
	return mapError(err)
}

func (d *directChannel) SendDocument(ctx context.Context, path, caption string) error {
	file, err := d.upload(ctx, path)
	if err != nil {
		return err
	}
	doc := message.UploadedDocument(file, captionOf(caption)...).
		MIME(mimeOf(path, "application/octet-stream")).
		Filename(filepath.Base(path))
	_, err = d.conn.sender.To(d.to).Media(ctx, doc)
	return mapError(err)
}

func (d *directChannel) upload(ctx context.Context, path string) (tg.InputFileClass, error) {
	file, err := d.conn.uploader.FromPath(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(mapError(err), "upload %s", filepath.Base(path))
	}
	return file, nil
}

func captionOf(caption string) []styling.StyledTextOption {
	if caption == "" {
		return nil
	}
	return []styling.StyledTextOption{styling.Plain(caption)}
}

func mimeOf(path, fallback string) string {
	if m := mime.TypeByExtension(filepath.Ext(path)); m != "" {
		return m
	}
	return fallback
}
