// Package timepix owns the shared data model for Timepix pixel hit analysis.
//
// Responsibilities: the Hit and Trigger input records, the Cluster and
// TriggerWindow results, the error taxonomy shared by the engines, and the
// HitSource/TriggerSource streaming interfaces.
// Key types: Hit, Trigger, Cluster, TriggerWindow.
//
// Dependency rule: sub-packages (cluster, trigger, pipeline, hitio, report,
// runstore) may depend on this package, never the other way round.
// No file or database code is allowed in this package.
package timepix
