package remote

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"
)

// WriteTarball streams the tree under root as a gzip compressed tar to w.
// Entry names are relative to root.
func WriteTarball(w io.Writer, fs afero.Fs, root string) error {
	gz := pgzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", root, err)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// Upload copies the local tree under localDir into remoteDir on the host,
// creating remoteDir when missing.
func (c *Client) Upload(ctx context.Context, fs afero.Fs, localDir, remoteDir string) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", c.ip, err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	dir := shellQuote(remoteDir)
	if err := session.Start(fmt.Sprintf("mkdir -p %s && tar -xzf - -C %s", dir, dir)); err != nil {
		return fmt.Errorf("failed to start upload to %s:%s: %w", c.ip, remoteDir, err)
	}

	err = c.wait(ctx, session, func() error {
		if err := WriteTarball(stdin, fs, localDir); err != nil {
			_ = stdin.Close()
			return err
		}
		if err := stdin.Close(); err != nil {
			return err
		}
		return session.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s:%s: %w: %s", localDir, c.ip, remoteDir, err, stderr.String())
	}
	return nil
}
