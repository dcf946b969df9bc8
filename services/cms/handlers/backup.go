// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Backup streams a full database backup while the service keeps running.
// The body is a BadgerDB backup stream accepted by "phoebe restore".
func Backup(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := fmt.Sprintf("phoebe-%s.bak", d.now().UTC().Format("20060102-150405"))
		c.Header("Content-Type", "application/octet-stream")
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Status(http.StatusOK)
		version, err := d.Store.Backup(c.Request.Context(), c.Writer)
		if err != nil {
			// Headers are gone; all that is left is to log and cut the stream.
			d.logger().Error("backup failed", "error", err)
			_ = c.Error(err)
			return
		}
		auditAction(c, d, "admin.backup", "backup", "database", 0)
		d.logger().Info("backup streamed", "version", version, "user", currentUser(c).Username)
	}
}
