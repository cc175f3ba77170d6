package confluence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// flexID is a document identifier that the API serves either as a JSON
// number (spaces) or as a string (content).
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*id = flexID(n.String())
	return nil
}

func (id flexID) String() string { return string(id) }

// pageLinks carries the pagination cursor of a paged response.
type pageLinks struct {
	Next string `json:"next"`
}

// webLinks carries per-entity navigation links.
type webLinks struct {
	WebUI    string `json:"webui"`
	Download string `json:"download"`
}

// Subject is a user or group referenced by a permission grant or a
// content restriction.
type Subject struct {
	Type        string `json:"type"`
	AccountType string `json:"accountType"`
	AccountID   string `json:"accountId"`
	ID          string `json:"id"`
}

// SubjectResults wraps a paged subject list.
type SubjectResults struct {
	Results []Subject `json:"results"`
}

// Subjects groups permission subjects by kind.
type Subjects struct {
	User  SubjectResults `json:"user"`
	Group SubjectResults `json:"group"`
}

// PermissionOperation identifies what a permission grants and on what.
type PermissionOperation struct {
	Operation  string `json:"operation"`
	TargetType string `json:"targetType"`
}

// Permission is a space-level permission grant.
type Permission struct {
	Operation PermissionOperation `json:"operation"`
	Subjects  Subjects            `json:"subjects"`
}

// Space is one result of the space listing endpoint.
type Space struct {
	ID          flexID       `json:"id"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	Links       webLinks     `json:"_links"`
}

// SpacesPage is one page of the space listing endpoint.
type SpacesPage struct {
	Results []Space   `json:"results"`
	Links   pageLinks `json:"_links"`
}

// SpaceRef is the space substructure embedded in a content result.
type SpaceRef struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Content is one page or blog post from the content search endpoint.
type Content struct {
	ID      flexID `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	History struct {
		LastUpdated struct {
			When string `json:"when"`
		} `json:"lastUpdated"`
	} `json:"history"`
	Children struct {
		Attachment struct {
			Size int `json:"size"`
		} `json:"attachment"`
	} `json:"children"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Space        SpaceRef `json:"space"`
	Restrictions struct {
		Read struct {
			Restrictions Subjects `json:"restrictions"`
		} `json:"read"`
	} `json:"restrictions"`
	Links webLinks `json:"_links"`
}

// ContentPage is one page of the content search endpoint.
type ContentPage struct {
	Results []Content `json:"results"`
	Links   pageLinks `json:"_links"`
}

// Attachment is one result of the child attachment endpoint.
type Attachment struct {
	ID      flexID `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Version struct {
		When string `json:"when"`
	} `json:"version"`
	Extensions struct {
		FileSize int64 `json:"fileSize"`
	} `json:"extensions"`
	Links webLinks `json:"_links"`
}

// AttachmentsPage is one page of the child attachment endpoint.
type AttachmentsPage struct {
	Results []Attachment `json:"results"`
	Links   pageLinks    `json:"_links"`
}

// SearchEntity is the space or content payload of a CQL search result.
type SearchEntity struct {
	ID    flexID `json:"id"`
	Type  string `json:"type"`
	Space struct {
		Name string `json:"name"`
	} `json:"space"`
	Container struct {
		Type  string `json:"type"`
		Title string `json:"title"`
	} `json:"container"`
	Extensions struct {
		FileSize int64 `json:"fileSize"`
	} `json:"extensions"`
	Links webLinks `json:"_links"`
}

// SearchResult is one result of the CQL search endpoint.
type SearchResult struct {
	Title        string        `json:"title"`
	EntityType   string        `json:"entityType"`
	LastModified string        `json:"lastModified"`
	Excerpt      string        `json:"excerpt"`
	URL          string        `json:"url"`
	Space        *SearchEntity `json:"space"`
	Content      *SearchEntity `json:"content"`
}

// SearchPage is one page of the CQL search endpoint.
type SearchPage struct {
	Results []SearchResult `json:"results"`
	Links   pageLinks      `json:"_links"`
}

// User is one entry of the bulk user listing, expanded with groups and
// application roles by the per-user detail fetch.
type User struct {
	Self        string `json:"self"`
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
	Groups      struct {
		Items []struct {
			GroupID string `json:"groupId"`
		} `json:"items"`
	} `json:"groups"`
	ApplicationRoles struct {
		Items []struct {
			Key string `json:"key"`
		} `json:"items"`
	} `json:"applicationRoles"`
}
