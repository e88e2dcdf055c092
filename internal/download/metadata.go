package download

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FileInfo is one downloadable file surfaced by a metadata probe, with
// size and digest when the remote API provides them.
type FileInfo struct {
	Name   string  `json:"name"`
	SizeKB float64 `json:"size_kb,omitempty"`
	Size   int64   `json:"size,omitempty"`
	SHA256 string  `json:"sha256,omitempty"`
	Type   string  `json:"type,omitempty"`
}

// CivitaiMetadata is the probe result for GET /models/civitai/{id[:version]}.
type CivitaiMetadata struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`
	VersionID   int64      `json:"version_id,omitempty"`
	VersionName string     `json:"version_name,omitempty"`
	BaseModel   string     `json:"base_model,omitempty"`
	Files       []FileInfo `json:"files"`
}

// HuggingFaceMetadata is the probe result for GET /models/huggingface.
type HuggingFaceMetadata struct {
	RepoID   string     `json:"repo_id"`
	Revision string     `json:"revision"`
	Files    []FileInfo `json:"files"`
}

// civitai API wire shapes, trimmed to the fields the probe surfaces.
type civitaiModelDoc struct {
	ID            int64               `json:"id"`
	Name          string              `json:"name"`
	Type          string              `json:"type"`
	Description   string              `json:"description"`
	ModelVersions []civitaiVersionDoc `json:"modelVersions"`
}

type civitaiVersionDoc struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	BaseModel string `json:"baseModel"`
	Files     []struct {
		Name   string  `json:"name"`
		SizeKB float64 `json:"sizeKB"`
		Type   string  `json:"type"`
		Hashes struct {
			SHA256 string `json:"SHA256"`
		} `json:"hashes"`
	} `json:"files"`
}

// ProbeCivitai fetches model metadata by model id, optionally narrowed to
// one version. With no version, the first (latest) version's files are
// surfaced.
func (c *Client) ProbeCivitai(ctx context.Context, modelID, versionID int64) (CivitaiMetadata, error) {
	var doc civitaiModelDoc
	probeURL := fmt.Sprintf("%s/models/%d", c.civitaiAPI, modelID)
	if err := c.getJSON(ctx, probeURL, &doc); err != nil {
		return CivitaiMetadata{}, fmt.Errorf("civitai probe: %w", err)
	}

	meta := CivitaiMetadata{
		ID:          doc.ID,
		Name:        doc.Name,
		Type:        doc.Type,
		Description: doc.Description,
	}

	var version *civitaiVersionDoc
	for i := range doc.ModelVersions {
		if versionID == 0 || doc.ModelVersions[i].ID == versionID {
			version = &doc.ModelVersions[i]
			break
		}
	}
	if version == nil {
		if versionID != 0 {
			return CivitaiMetadata{}, fmt.Errorf("civitai probe: version %d not found in model %d", versionID, modelID)
		}
		return meta, nil
	}

	meta.VersionID = version.ID
	meta.VersionName = version.Name
	meta.BaseModel = version.BaseModel
	for _, f := range version.Files {
		meta.Files = append(meta.Files, FileInfo{
			Name:   f.Name,
			SizeKB: f.SizeKB,
			SHA256: strings.ToLower(f.Hashes.SHA256),
			Type:   f.Type,
		})
	}
	return meta, nil
}

// hf API wire shape for /api/models/{repo}/revision/{rev}.
type hfModelDoc struct {
	Siblings []struct {
		Rfilename string `json:"rfilename"`
		Size      int64  `json:"size"`
		LFS       *struct {
			SHA256 string `json:"sha256"`
			Size   int64  `json:"size"`
		} `json:"lfs"`
	} `json:"siblings"`
}

// ProbeHuggingFace fetches repo file metadata, optionally filtered to a
// single filename. Size and sha256 come from the LFS pointer when the
// file is LFS-tracked, which every model weight file is in practice.
func (c *Client) ProbeHuggingFace(ctx context.Context, repoID, filename, revision string) (HuggingFaceMetadata, error) {
	if revision == "" {
		revision = "main"
	}
	probeURL := fmt.Sprintf("%s/api/models/%s/revision/%s", c.hfBase, repoID, url.PathEscape(revision))

	var doc hfModelDoc
	if err := c.getJSON(ctx, probeURL, &doc); err != nil {
		return HuggingFaceMetadata{}, fmt.Errorf("huggingface probe: %w", err)
	}

	meta := HuggingFaceMetadata{RepoID: repoID, Revision: revision}
	for _, sib := range doc.Siblings {
		if filename != "" && sib.Rfilename != filename {
			continue
		}
		fi := FileInfo{Name: sib.Rfilename, Size: sib.Size}
		if sib.LFS != nil {
			fi.SHA256 = sib.LFS.SHA256
			if fi.Size == 0 {
				fi.Size = sib.LFS.Size
			}
		}
		meta.Files = append(meta.Files, fi)
	}
	if filename != "" && len(meta.Files) == 0 {
		return HuggingFaceMetadata{}, fmt.Errorf("huggingface probe: %q not found in %s@%s", filename, repoID, revision)
	}
	return meta, nil
}

func (c *Client) getJSON(ctx context.Context, probeURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", probeURL, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", probeURL, err)
	}
	return nil
}
