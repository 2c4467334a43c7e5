package cmd

import (
	"strings"
	"testing"

	"github.com/libris/librarian/internal/corpus"
)

func TestIndexTarget(t *testing.T) {
	reset := func() {
		indexUserID = ""
		indexOrgID = ""
		indexProjectID = ""
		indexAppID = "default"
		indexLayer = "app"
	}

	t.Run("app layer defaults", func(t *testing.T) {
		reset()
		target, err := indexTarget()
		if err != nil {
			t.Fatalf("indexTarget: %v", err)
		}
		if target.Layer != corpus.LayerApp || target.AppID != "default" {
			t.Errorf("target = %+v", target)
		}
	})

	t.Run("invalid layer", func(t *testing.T) {
		reset()
		indexLayer = "global"
		if _, err := indexTarget(); err == nil || !strings.Contains(err.Error(), "invalid layer") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("org layer requires org", func(t *testing.T) {
		reset()
		indexLayer = "org"
		if _, err := indexTarget(); err == nil {
			t.Error("expected error")
		}
		indexOrgID = "acme"
		target, err := indexTarget()
		if err != nil {
			t.Fatalf("indexTarget: %v", err)
		}
		if target.Layer != corpus.LayerOrg || target.OrganizationID != "acme" {
			t.Errorf("target = %+v", target)
		}
	})

	t.Run("user layer requires user", func(t *testing.T) {
		reset()
		indexLayer = "user"
		if _, err := indexTarget(); err == nil {
			t.Error("expected error")
		}
		indexUserID = "u-1"
		if _, err := indexTarget(); err != nil {
			t.Errorf("indexTarget: %v", err)
		}
	})

	t.Run("project layer requires project", func(t *testing.T) {
		reset()
		indexLayer = "project"
		if _, err := indexTarget(); err == nil {
			t.Error("expected error")
		}
	})
}
