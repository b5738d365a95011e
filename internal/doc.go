// Package internal contains the implementation packages of searchparts.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - extension: extension kinds, descriptors and the per-kind validators
//   - loader: resolves library ids to modules, statically or from plugins
//   - extensibility: loads libraries, validates and filters their extensions
//   - templating: the Handlebars engine with the result helpers, result types,
//     date formatting and web component expansion
//   - sanitizer: HTML sanitizing and style scoping of rendered output
//   - render: per-instance render surfaces with change-aware caching
//   - fetch: template retrieval from disk or http with a content cache
//   - search: the built-in SharePoint and Microsoft Graph data sources
//   - watcher: file system monitoring with debouncing
//   - server, websocket: the preview server and its live re-render socket
//   - app: wiring of all of the above from configuration
//   - config, errors, logging, validation, version: shared infrastructure
//
// # Inter-Package Communication
//
// Packages receive their collaborators through constructors and small
// interfaces. Nothing is registered globally; app builds one instance of
// each service per process and closes them on shutdown.
package internal
