package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/adapter"
	"github.com/jameshyojaelee/omnispatial/batch"
	"github.com/jameshyojaelee/omnispatial/catalog"
	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/validate"
)

func ints(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func renderTable(cmd *cobra.Command, data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
}

func renderPlan(cmd *cobra.Command, plan ngff.Plan) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Format: %s, compressor: %s (level %d)\n", plan.Format, plan.Compressor, plan.Level)
	data := pterm.TableData{{"Kind", "Layer", "Path", "Shape", "Chunks", "DType", "Chunk objects"}}
	for _, a := range plan.Arrays {
		data = append(data, []string{a.Kind, a.Layer, a.Path, ints(a.Shape), ints(a.Chunks), a.DType, strconv.Itoa(a.NumChunks)})
	}
	return renderTable(cmd, data)
}

func renderConversion(cmd *cobra.Command, c conversion) error {
	data := pterm.TableData{
		{"Field", "Value"},
		{"Input", c.Input},
		{"Adapter", c.Adapter},
		{"Format", c.Format},
		{"Layers", fmt.Sprintf("%d images, %d labels, %d tables", c.Images, c.Labels, c.Tables)},
		{"Fingerprint", c.Fingerprint},
		{"Duration", c.Duration.Round(time.Millisecond).String()},
	}
	return renderTable(cmd, data)
}

func renderReport(cmd *cobra.Command, r validate.Report) error {
	if len(r.Issues) == 0 {
		pterm.Success.Printfln("%v: no issues", r.Summary[validate.SummaryTarget])
		return nil
	}
	data := pterm.TableData{{"Severity", "Code", "Path", "Message"}}
	for _, is := range r.Issues {
		data = append(data, []string{string(is.Severity), is.Code, is.Path, is.Message})
	}
	if err := renderTable(cmd, data); err != nil {
		return err
	}
	if r.OK {
		pterm.Warning.Printfln("%d issues, none are errors", len(r.Issues))
	} else {
		pterm.Error.Printfln("%d errors in %d issues", len(r.Errors()), len(r.Issues))
	}
	return nil
}

func renderAdapters(cmd *cobra.Command, list []adapter.Metadata) error {
	data := pterm.TableData{{"Name", "Version", "Vendor", "Modalities", "Engine", "Description"}}
	for _, md := range list {
		data = append(data, []string{md.Name, md.Version, md.Vendor, strings.Join(md.Modalities, ", "), md.EngineVersion, md.Description})
	}
	return renderTable(cmd, data)
}

func renderHistory(cmd *cobra.Command, entries []catalog.Entry) error {
	if len(entries) == 0 {
		pterm.Info.Println("No history recorded yet")
		return nil
	}
	data := pterm.TableData{{"When", "Kind", "Target", "Format", "OK", "Detail"}}
	for _, e := range entries {
		ok := "yes"
		if !e.OK {
			ok = "no"
		}
		data = append(data, []string{e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Target, e.Format, ok, e.Detail})
	}
	return renderTable(cmd, data)
}

func renderBatch(cmd *cobra.Command, results []batch.Result) error {
	data := pterm.TableData{{"Input", "Destination", "Status", "Duration"}}
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		data = append(data, []string{r.Job.Input, r.Job.Destination, status, r.Duration.Round(time.Millisecond).String()})
	}
	return renderTable(cmd, data)
}
